package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()

	e := NewEvent(EventRunStarted, "run-1", map[string]any{"k": "v"})
	require.NoError(t, bus.Publish(context.Background(), e))

	got := <-ch
	assert.Equal(t, e, got)
}

func TestEventBus_PublishRespectsContextCancellation(t *testing.T) {
	bus := NewEventBus()
	// Fill the bus's buffer so the next publish would block.
	for i := 0; i < busBufferSize; i++ {
		require.NoError(t, bus.Publish(context.Background(), NewEvent(EventRunStarted, "run-1", nil)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, NewEvent(EventRunStarted, "run-1", nil))
	assert.Error(t, err)
}

func TestEventType_Granularity(t *testing.T) {
	assert.Equal(t, GranularityLifecycle, EventRunStarted.granularity())
	assert.Equal(t, GranularityRows, EventRowCreated.granularity())
	assert.Equal(t, GranularityFull, EventExternalCallCompleted.granularity())
}
