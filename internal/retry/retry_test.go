package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

var errBoom = errors.New("boom")

func TestManager_SucceedsFirstTry(t *testing.T) {
	m := New(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestManager_RetriesThenSucceeds(t *testing.T) {
	m := New(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestManager_ExhaustsAttempts(t *testing.T) {
	m := New(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	var exhausted *contracts.MaxRetriesExceeded
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, errBoom)
}

func TestManager_NonRetryableStopsImmediately(t *testing.T) {
	m := New(Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		IsRetryable: func(err error) bool { return false },
	})
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNoRetry_SingleAttempt(t *testing.T) {
	m := New(NoRetry())
	calls := 0
	err := m.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestManager_ContextCancelledDuringWait(t *testing.T) {
	m := New(Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := m.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
