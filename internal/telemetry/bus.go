package telemetry

import "context"

// busBufferSize is the bus's internal channel depth. The bus itself does
// not implement the backpressure modes of spec §4.15 — those govern the
// TelemetryManager-to-Exporter link, where a slow external sink is the
// expected failure mode. The bus sits between the engine and exactly one
// subscriber (the TelemetryManager), which is expected to drain quickly
// since its own work is just granularity filtering and an exporter fan-out
// it buffers internally.
const busBufferSize = 4096

// EventBus is process-scoped: constructed explicitly by cmd/elspeth and
// passed to whatever needs to publish or subscribe, never a package-level
// singleton (spec §9 "no global mutable state").
type EventBus struct {
	ch chan Event
}

// NewEventBus builds an EventBus.
func NewEventBus() *EventBus {
	return &EventBus{ch: make(chan Event, busBufferSize)}
}

// Publish sends e to the bus's single subscriber. It blocks if the bus's
// internal buffer is full and ctx is not yet cancelled, and returns
// ctx.Err() if ctx is cancelled first — callers on the hot path should use
// a context with no deadline unless they want publishing telemetry to be
// best-effort under load.
func (b *EventBus) Publish(ctx context.Context, e Event) error {
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the bus's event channel. Only the TelemetryManager is
// expected to call this — the bus supports a single logical subscriber per
// process, matching spec §4.15's "the TelemetryManager subscribes to the
// bus" (singular).
func (b *EventBus) Subscribe() <-chan Event {
	return b.ch
}

// Close closes the bus's channel, signalling subscribers to stop. Callers
// must ensure no further Publish calls occur after Close.
func (b *EventBus) Close() {
	close(b.ch)
}
