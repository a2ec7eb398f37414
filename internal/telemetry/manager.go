package telemetry

import (
	"context"
	"fmt"
	"log/slog"
)

// BackpressureMode selects how the manager behaves when an exporter cannot
// keep up (spec §4.15).
type BackpressureMode string

const (
	// BackpressureBlock is the default: a slow exporter may block the
	// manager's dispatch loop, which in turn blocks the bus and ultimately
	// the producer — the run still completes, just more slowly.
	BackpressureBlock BackpressureMode = "block"
	// BackpressureDrop uses a bounded ring buffer per exporter that drops
	// the oldest buffered event on overflow, logging the drop count in
	// aggregate every dropLogInterval drops (counted across all exporters)
	// rather than per-drop.
	BackpressureDrop BackpressureMode = "drop"
	// BackpressureSlow is reserved and not implemented; selecting it fails
	// fast at construction time.
	BackpressureSlow BackpressureMode = "slow"
)

// dropLogInterval is the N in "aggregate-log every N=100 drops" (spec
// §4.15), used both for per-exporter ring-buffer overflow and for the
// all-exporters-failed counter.
const dropLogInterval = 100

// dropRingSize bounds each exporter's drop-mode buffer.
const dropRingSize = 1024

// Config is the telemetry.* settings block (spec §6).
type Config struct {
	Enabled                    bool
	Granularity                Granularity
	BackpressureMode           BackpressureMode
	FailOnTotalExporterFailure bool
	MaxConsecutiveFailures     int
}

// Validate rejects a Config spec §4.15 requires to fail fast: an unknown
// backpressure mode, or "slow" specifically, which is reserved.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.BackpressureMode {
	case BackpressureBlock, BackpressureDrop:
		return nil
	case BackpressureSlow:
		return fmt.Errorf("telemetry: backpressure mode %q is reserved and not implemented", BackpressureSlow)
	default:
		return fmt.Errorf("telemetry: unknown backpressure_mode %q", c.BackpressureMode)
	}
}

// ErrFatalExporterFailure is returned by Manager.Run when every exporter
// has failed for config.MaxConsecutiveFailures consecutive events and
// FailOnTotalExporterFailure is set — the spec's "crash" outcome.
type ErrFatalExporterFailure struct {
	ConsecutiveFailures int
}

func (e *ErrFatalExporterFailure) Error() string {
	return fmt.Sprintf("telemetry: all exporters failed for %d consecutive events, fail_on_total_exporter_failure is set", e.ConsecutiveFailures)
}

// Manager subscribes to an EventBus, filters events by granularity, and
// dispatches each to every configured Exporter (spec §4.15).
type Manager struct {
	config    Config
	exporters []Exporter
	rings     map[string]*dropRing

	consecutiveTotalFailures int
	totalDropsSinceLog       int
}

// NewManager builds a Manager. config must already be Validate()'d.
func NewManager(config Config, exporters []Exporter) *Manager {
	m := &Manager{config: config, exporters: exporters}
	if config.BackpressureMode == BackpressureDrop {
		m.rings = make(map[string]*dropRing, len(exporters))
		for _, exp := range exporters {
			m.rings[exp.Name()] = newDropRing(dropRingSize)
		}
	}
	if m.config.MaxConsecutiveFailures <= 0 {
		m.config.MaxConsecutiveFailures = dropLogInterval
	}
	return m
}

// Run drains bus until ctx is cancelled or the bus is closed, dispatching
// each event that passes the configured granularity filter. It returns
// ErrFatalExporterFailure if FailOnTotalExporterFailure fires; callers
// (cmd/elspeth) are expected to treat that as a fatal startup-class error.
func (m *Manager) Run(ctx context.Context, bus *EventBus) error {
	if !m.config.Enabled {
		<-ctx.Done()
		return nil
	}
	events := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if !m.config.Granularity.includes(e.Granularity()) {
				continue
			}
			if err := m.dispatch(ctx, e); err != nil {
				return err
			}
		}
	}
}

// dispatch fans e out to every exporter per the configured backpressure
// mode, returning a fatal error only when FailOnTotalExporterFailure
// fires.
func (m *Manager) dispatch(ctx context.Context, e Event) error {
	switch m.config.BackpressureMode {
	case BackpressureDrop:
		return m.dispatchDrop(e)
	default:
		return m.dispatchBlock(ctx, e)
	}
}

func (m *Manager) dispatchBlock(ctx context.Context, e Event) error {
	anySucceeded := false
	for _, exp := range m.exporters {
		if err := exp.Export(ctx, e); err != nil {
			slog.Warn("telemetry: exporter failed", "exporter", exp.Name(), "event_type", e.Type, "error", err)
			continue
		}
		anySucceeded = true
	}
	return m.recordOutcome(anySucceeded, len(m.exporters) > 0)
}

// dispatchDrop enqueues e onto each exporter's ring buffer rather than
// calling Export synchronously; a background drainer (see drain) performs
// the actual export so a slow exporter only ever drops its own buffer,
// never blocks the others.
func (m *Manager) dispatchDrop(e Event) error {
	anyAccepted := false
	for _, exp := range m.exporters {
		ring := m.rings[exp.Name()]
		dropped := ring.push(e)
		if dropped {
			m.totalDropsSinceLog++
			if m.totalDropsSinceLog >= dropLogInterval {
				slog.Warn("telemetry: ring buffer overflow, dropping oldest events",
					"exporter", exp.Name(), "dropped_since_last_log", m.totalDropsSinceLog)
				m.totalDropsSinceLog = 0
			}
		} else {
			anyAccepted = true
		}
	}
	return m.recordOutcome(anyAccepted, len(m.exporters) > 0)
}

// recordOutcome implements the "all exporters fail for a single event"
// clause: increments consecutive_total_failures, aggregate-logs every
// dropLogInterval failures, and once max_consecutive_failures is reached
// either returns a fatal error (fail_on_total_exporter_failure) or
// CRITICAL-logs once and resets the counter to keep running without
// telemetry rather than spamming the log forever.
func (m *Manager) recordOutcome(anySucceeded bool, hadExporters bool) error {
	if anySucceeded || !hadExporters {
		m.consecutiveTotalFailures = 0
		return nil
	}
	m.consecutiveTotalFailures++
	if m.consecutiveTotalFailures%dropLogInterval == 0 {
		slog.Warn("telemetry: all exporters have failed repeatedly", "consecutive_failures", m.consecutiveTotalFailures)
	}
	if m.consecutiveTotalFailures < m.config.MaxConsecutiveFailures {
		return nil
	}
	if m.config.FailOnTotalExporterFailure {
		return &ErrFatalExporterFailure{ConsecutiveFailures: m.consecutiveTotalFailures}
	}
	slog.Error("telemetry: all exporters failed for the configured threshold, continuing without telemetry",
		"consecutive_failures", m.consecutiveTotalFailures)
	m.consecutiveTotalFailures = 0
	return nil
}

// Drain runs the drop-mode background drainer for every exporter until ctx
// is cancelled. Callers using BackpressureBlock do not need this — dispatch
// already calls Export synchronously.
func (m *Manager) Drain(ctx context.Context) {
	if m.config.BackpressureMode != BackpressureDrop {
		return
	}
	for _, exp := range m.exporters {
		go m.drainOne(ctx, exp, m.rings[exp.Name()])
	}
	<-ctx.Done()
}

func (m *Manager) drainOne(ctx context.Context, exp Exporter, ring *dropRing) {
	for {
		e, ok := ring.pop(ctx)
		if !ok {
			return
		}
		if err := exp.Export(ctx, e); err != nil {
			slog.Warn("telemetry: exporter failed", "exporter", exp.Name(), "event_type", e.Type, "error", err)
		}
	}
}

// Close flushes and closes every exporter, logging (never panicking) on
// failure — Close itself must remain safe to call during shutdown even if
// an exporter misbehaves.
func (m *Manager) Close(ctx context.Context) {
	for _, exp := range m.exporters {
		if err := exp.Flush(ctx); err != nil {
			slog.Warn("telemetry: exporter flush failed", "exporter", exp.Name(), "error", err)
		}
		if err := exp.Close(); err != nil {
			slog.Warn("telemetry: exporter close failed", "exporter", exp.Name(), "error", err)
		}
	}
}
