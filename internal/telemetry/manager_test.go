package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExporter struct {
	mu       sync.Mutex
	name     string
	received []Event
	failWith error
	closed   bool
}

func (f *fakeExporter) Name() string                      { return f.name }
func (f *fakeExporter) Configure(cfg map[string]any) error { return nil }
func (f *fakeExporter) Export(ctx context.Context, e Event) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, e)
	return nil
}
func (f *fakeExporter) Flush(ctx context.Context) error { return nil }
func (f *fakeExporter) Close() error                    { f.closed = true; return nil }

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("disabled skips checks", func(t *testing.T) {
		assert.NoError(t, Config{Enabled: false}.Validate())
	})
	t.Run("block is valid", func(t *testing.T) {
		assert.NoError(t, Config{Enabled: true, BackpressureMode: BackpressureBlock}.Validate())
	})
	t.Run("drop is valid", func(t *testing.T) {
		assert.NoError(t, Config{Enabled: true, BackpressureMode: BackpressureDrop}.Validate())
	})
	t.Run("slow fails fast, reserved", func(t *testing.T) {
		assert.Error(t, Config{Enabled: true, BackpressureMode: BackpressureSlow}.Validate())
	})
	t.Run("unknown mode fails fast", func(t *testing.T) {
		assert.Error(t, Config{Enabled: true, BackpressureMode: "bogus"}.Validate())
	})
}

func TestGranularity_Includes(t *testing.T) {
	assert.True(t, GranularityLifecycle.includes(GranularityLifecycle))
	assert.False(t, GranularityLifecycle.includes(GranularityRows))
	assert.True(t, GranularityRows.includes(GranularityLifecycle))
	assert.True(t, GranularityFull.includes(GranularityRows))
	assert.True(t, GranularityFull.includes(GranularityFull))
}

func runManager(t *testing.T, m *Manager, bus *EventBus, events []Event) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()
	for _, e := range events {
		require.NoError(t, bus.Publish(context.Background(), e))
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}

func TestManager_FiltersByGranularity(t *testing.T) {
	exp := &fakeExporter{name: "log"}
	m := NewManager(Config{Enabled: true, Granularity: GranularityLifecycle, BackpressureMode: BackpressureBlock}, []Exporter{exp})
	bus := NewEventBus()

	runManager(t, m, bus, []Event{
		NewEvent(EventRunStarted, "run-1", nil),
		NewEvent(EventRowCreated, "run-1", nil),
	})

	assert.Equal(t, 1, exp.count())
}

func TestManager_FullGranularityReceivesEverything(t *testing.T) {
	exp := &fakeExporter{name: "log"}
	m := NewManager(Config{Enabled: true, Granularity: GranularityFull, BackpressureMode: BackpressureBlock}, []Exporter{exp})
	bus := NewEventBus()

	runManager(t, m, bus, []Event{
		NewEvent(EventRunStarted, "run-1", nil),
		NewEvent(EventRowCreated, "run-1", nil),
		NewEvent(EventExternalCallCompleted, "run-1", nil),
	})

	assert.Equal(t, 3, exp.count())
}

func TestManager_PerExporterFailureDoesNotStopOthers(t *testing.T) {
	failing := &fakeExporter{name: "broken", failWith: errors.New("boom")}
	working := &fakeExporter{name: "log"}
	m := NewManager(Config{Enabled: true, Granularity: GranularityFull, BackpressureMode: BackpressureBlock}, []Exporter{failing, working})
	bus := NewEventBus()

	runManager(t, m, bus, []Event{NewEvent(EventRunStarted, "run-1", nil)})

	assert.Equal(t, 1, working.count())
}

func TestManager_AllExportersFailingEventuallyFatalsWhenConfigured(t *testing.T) {
	failing := &fakeExporter{name: "broken", failWith: errors.New("boom")}
	m := NewManager(Config{
		Enabled: true, Granularity: GranularityFull, BackpressureMode: BackpressureBlock,
		FailOnTotalExporterFailure: true, MaxConsecutiveFailures: 3,
	}, []Exporter{failing})
	bus := NewEventBus()

	go func() {
		for i := 0; i < 5; i++ {
			_ = bus.Publish(context.Background(), NewEvent(EventRunStarted, "run-1", nil))
		}
	}()

	err := m.Run(context.Background(), bus)
	var fatal *ErrFatalExporterFailure
	require.ErrorAs(t, err, &fatal)
	assert.GreaterOrEqual(t, fatal.ConsecutiveFailures, 3)
}

func TestManager_AllExportersFailingWithoutFailFlagKeepsRunning(t *testing.T) {
	failing := &fakeExporter{name: "broken", failWith: errors.New("boom")}
	m := NewManager(Config{
		Enabled: true, Granularity: GranularityFull, BackpressureMode: BackpressureBlock,
		FailOnTotalExporterFailure: false, MaxConsecutiveFailures: 2,
	}, []Exporter{failing})
	bus := NewEventBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), NewEvent(EventRunStarted, "run-1", nil)))
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestManager_DropModeDrainsWithoutBlockingDispatch(t *testing.T) {
	exp := &fakeExporter{name: "log"}
	m := NewManager(Config{Enabled: true, Granularity: GranularityFull, BackpressureMode: BackpressureDrop}, []Exporter{exp})
	bus := NewEventBus()

	ctx, cancel := context.WithCancel(context.Background())
	go m.Drain(ctx)
	defer cancel()

	runManager(t, m, bus, []Event{NewEvent(EventRunStarted, "run-1", nil)})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, exp.count())
}

func TestManager_Close_FlushesAndClosesEveryExporter(t *testing.T) {
	exp := &fakeExporter{name: "log"}
	m := NewManager(Config{Enabled: true}, []Exporter{exp})
	m.Close(context.Background())
	assert.True(t, exp.closed)
}
