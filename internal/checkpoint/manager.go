// Package checkpoint implements the write and read paths of checkpoint/
// recovery (spec §4.13): Manager decides, per processed row, whether the
// current position is worth persisting; RecoveryManager answers whether a
// run can be resumed and where from.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// Frequency selects when Manager.MaybeCheckpoint actually writes a row.
type Frequency string

const (
	FrequencyEveryRow        Frequency = "every_row"
	FrequencyEveryN          Frequency = "every_n"
	FrequencyAggregationOnly Frequency = "aggregation_only"
)

func (f Frequency) valid() bool {
	switch f {
	case FrequencyEveryRow, FrequencyEveryN, FrequencyAggregationOnly:
		return true
	default:
		return false
	}
}

// Config mirrors the checkpoint.* settings block (spec §6).
// AggregationBoundaries is accepted for settings-shape compatibility but is
// not a toggle: an aggregation flush always checkpoints when Enabled,
// independent of Frequency, matching spec §4.13's "unconditionally".
type Config struct {
	Enabled               bool
	Frequency             Frequency
	CheckpointInterval    int
	AggregationBoundaries bool
}

// Validate rejects a Config that would silently never checkpoint or would
// divide by zero in ShouldCheckpoint — a fail-fast config error belongs at
// startup, not three hundred rows into a run.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.Frequency.valid() {
		return fmt.Errorf("checkpoint: unknown frequency %q", c.Frequency)
	}
	if c.Frequency == FrequencyEveryN && c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint: frequency %q requires checkpoint_interval > 0", FrequencyEveryN)
	}
	return nil
}

// writer is the slice of *landscape.Recorder this package depends on.
type writer interface {
	CreateCheckpoint(ctx context.Context, runID, tokenID, nodeID string, sequenceNumber int64, aggregationState map[string]any, variables map[string]any) (*contracts.Checkpoint, error)
	DeleteCheckpointsForRun(ctx context.Context, runID string) error
}

// Manager gates the write path (spec §4.13's maybe_checkpoint). It carries
// no per-run counters: frequency is evaluated against the caller-supplied
// sequence_number, which the Orchestrator already maintains as a per-run
// monotonic counter, so two concurrent Managers over the same run would
// agree on whether a given sequence_number is a checkpoint boundary.
type Manager struct {
	recorder writer
	config   Config
}

// NewManager builds a Manager. config is assumed already Validate()'d.
func NewManager(recorder writer, config Config) *Manager {
	return &Manager{recorder: recorder, config: config}
}

// ShouldCheckpoint reports whether sequenceNumber is a checkpoint boundary
// under the configured frequency. aggregation_only never fires here — it
// fires only via CheckpointAggregationFlush.
func (m *Manager) ShouldCheckpoint(sequenceNumber int64) bool {
	if !m.config.Enabled {
		return false
	}
	switch m.config.Frequency {
	case FrequencyEveryRow:
		return true
	case FrequencyEveryN:
		return sequenceNumber%int64(m.config.CheckpointInterval) == 0
	default:
		return false
	}
}

// MaybeCheckpoint creates a Checkpoint row iff ShouldCheckpoint(sequenceNumber)
// holds. variables is the node's resolved config at this instant, hashed and
// stamped as the checkpoint's variables_hash — a resume later compares this
// against the current resolved config to detect drift.
func (m *Manager) MaybeCheckpoint(ctx context.Context, runID, tokenID, nodeID string, sequenceNumber int64, variables map[string]any) error {
	if !m.ShouldCheckpoint(sequenceNumber) {
		return nil
	}
	if _, err := m.recorder.CreateCheckpoint(ctx, runID, tokenID, nodeID, sequenceNumber, nil, variables); err != nil {
		return fmt.Errorf("checkpoint: maybe checkpoint: %w", err)
	}
	return nil
}

// CheckpointAggregationFlush unconditionally writes a Checkpoint carrying
// the aggregation's serialized buffer, independent of Frequency (spec
// §4.13 "aggregation flushes unconditionally create a Checkpoint"). It is a
// no-op when checkpointing is disabled entirely.
func (m *Manager) CheckpointAggregationFlush(ctx context.Context, runID, tokenID, nodeID string, sequenceNumber int64, aggregationState, variables map[string]any) error {
	if !m.config.Enabled {
		return nil
	}
	if _, err := m.recorder.CreateCheckpoint(ctx, runID, tokenID, nodeID, sequenceNumber, aggregationState, variables); err != nil {
		return fmt.Errorf("checkpoint: aggregation flush checkpoint: %w", err)
	}
	return nil
}

// Finalize deletes every checkpoint for runID, called after a run completes
// successfully (spec §4.13 "on successful run completion, all checkpoints
// for the run are deleted"). On failure the caller must not call this —
// checkpoints persist for a later resume.
func (m *Manager) Finalize(ctx context.Context, runID string) error {
	if err := m.recorder.DeleteCheckpointsForRun(ctx, runID); err != nil {
		return fmt.Errorf("checkpoint: finalize: %w", err)
	}
	return nil
}
