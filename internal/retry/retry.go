// Package retry wraps a zero-argument operation with bounded exponential
// backoff (spec §4.9). It never retries by itself — each retry happens
// because the caller's wrapped thunk re-invokes the executor, so every
// attempt still produces its own node-state (I2).
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// Policy configures a Manager. MaxAttempts counts total tries, including
// the first (MaxAttempts: 1 means no retry at all — the no_retry() factory
// below).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	IsRetryable func(err error) bool
}

// NoRetry returns a policy that attempts an operation exactly once.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1, IsRetryable: func(error) bool { return false }}
}

// Manager applies Policy to a thunk, matching tarsy's hand-rolled
// backoff-with-jitter poll loop (pkg/queue/worker.go) but built on
// cenkalti/backoff/v4 instead of re-deriving the jitter math.
type Manager struct {
	policy Policy
}

// New builds a Manager. A nil IsRetryable treats every error as retryable.
func New(policy Policy) *Manager {
	if policy.IsRetryable == nil {
		policy.IsRetryable = func(error) bool { return true }
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Manager{policy: policy}
}

// Do runs op, retrying per policy. op's return value is handed back
// verbatim on success. Exhaustion returns *contracts.MaxRetriesExceeded
// wrapping the last error and attempt count.
func (m *Manager) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.policy.BaseDelay
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = backoff.DefaultInitialInterval
	}
	bo.MaxInterval = m.policy.MaxDelay
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = backoff.DefaultMaxInterval
	}
	if !m.policy.Jitter {
		bo.RandomizationFactor = 0
	}
	bo.Reset()

	attempt := 0
	var lastErr error
	for {
		attempt++
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt >= m.policy.MaxAttempts || !m.policy.IsRetryable(lastErr) {
			return &contracts.MaxRetriesExceeded{Attempts: attempt, LastError: lastErr}
		}

		wait := bo.NextBackOff()
		slog.Warn("retrying after failed attempt",
			"attempt", attempt, "max_attempts", m.policy.MaxAttempts, "wait", wait, "error", lastErr)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
