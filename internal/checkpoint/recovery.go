package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// ErrNotResumable is returned by GetResumePoint when CanResume would report
// false — a run that is still running, already completed, or has never
// been checkpointed has no resume point to hand back.
var ErrNotResumable = errors.New("checkpoint: run is not resumable")

// ErrConfigDrifted is returned when the resolved configuration at resume
// time hashes differently than the variables_hash stamped on the
// checkpoint — the pipeline definition changed between the crash and the
// resume attempt, which this package refuses rather than silently
// replaying under a different graph (spec §9 open question on
// reconstruct_pipeline/reconstruct_graph: implement fully or refuse
// clearly, never skip silently).
var ErrConfigDrifted = errors.New("checkpoint: resolved configuration changed since the checkpoint was written")

// reader is the slice of *landscape.Recorder the read path depends on.
type reader interface {
	RunStatus(ctx context.Context, runID string) (contracts.RunStatus, error)
	HasCheckpoints(ctx context.Context, runID string) (bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (*contracts.Checkpoint, bool, error)
	UnprocessedRows(ctx context.Context, runID string) ([]string, error)
}

// ResumePoint is the read path's answer (spec §4.13 get_resume_point):
// the latest checkpoint plus the row_ids that have not reached a completed
// sink state.
type ResumePoint struct {
	Checkpoint        contracts.Checkpoint
	UnprocessedRowIDs []string
}

// RestorableAggregation is an optional capability an Aggregation plugin may
// implement to accept a previously serialized buffer back (spec §9
// "aggregation-state restoration"). A plugin that doesn't implement it can
// still be resumed as long as the latest checkpoint carries no aggregation
// state to restore — RestoreAggregationState refuses otherwise rather than
// silently dropping the buffer.
type RestorableAggregation interface {
	RestoreState(ctx context.Context, state map[string]any) error
}

// RecoveryManager answers can_resume/get_resume_point and validates a
// resume attempt before the Orchestrator is allowed to touch the run.
type RecoveryManager struct {
	recorder reader
}

// NewRecoveryManager wraps recorder.
func NewRecoveryManager(recorder reader) *RecoveryManager {
	return &RecoveryManager{recorder: recorder}
}

// CanResume reports true iff the run exists, its status is neither
// completed nor running, and at least one checkpoint exists for it (spec
// §4.13 can_resume).
func (m *RecoveryManager) CanResume(ctx context.Context, runID string) (bool, error) {
	status, err := m.recorder.RunStatus(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("checkpoint: can resume: %w", err)
	}
	if status == contracts.RunStatusCompleted || status == contracts.RunStatusRunning {
		return false, nil
	}
	has, err := m.recorder.HasCheckpoints(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("checkpoint: can resume: %w", err)
	}
	return has, nil
}

// GetResumePoint returns the latest checkpoint and the run's unprocessed
// row_ids, or ErrNotResumable if CanResume would report false.
func (m *RecoveryManager) GetResumePoint(ctx context.Context, runID string) (*ResumePoint, error) {
	ok, err := m.CanResume(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, runID)
	}
	cp, found, err := m.recorder.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get resume point: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, runID)
	}
	rowIDs, err := m.recorder.UnprocessedRows(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get resume point: %w", err)
	}
	return &ResumePoint{Checkpoint: *cp, UnprocessedRowIDs: rowIDs}, nil
}

// VerifyConfigUnchanged hashes currentVariables with the same canonical
// hash used when the checkpoint was written and compares it against the
// stored variables_hash, returning ErrConfigDrifted on mismatch.
func (m *RecoveryManager) VerifyConfigUnchanged(point *ResumePoint, currentVariables map[string]any) error {
	hash, err := canonhash.Hash(currentVariables)
	if err != nil {
		return fmt.Errorf("checkpoint: verify config: %w", err)
	}
	if hash != point.Checkpoint.VariablesHash {
		return fmt.Errorf("%w: expected variables_hash %s, got %s", ErrConfigDrifted, point.Checkpoint.VariablesHash, hash)
	}
	return nil
}

// RestoreAggregationState hands the checkpoint's serialized buffer back to
// agg if one was captured. If the checkpoint carries no aggregation state
// (a row-level checkpoint, not an aggregation-flush one), this is a no-op:
// the aggregation's buffer is rebuilt from scratch as unprocessed rows
// replay through Accept again. If state was captured but agg does not
// implement RestorableAggregation, this refuses outright rather than
// discarding the buffer silently.
func RestoreAggregationState(ctx context.Context, agg any, point *ResumePoint) error {
	if point.Checkpoint.AggregationStateJSON == nil {
		return nil
	}
	restorable, ok := agg.(RestorableAggregation)
	if !ok {
		return fmt.Errorf("checkpoint: resume point %s carries aggregation state but the aggregation plugin does not implement RestorableAggregation; refusing to resume", point.Checkpoint.CheckpointID)
	}
	if err := restorable.RestoreState(ctx, point.Checkpoint.AggregationStateJSON); err != nil {
		return fmt.Errorf("checkpoint: restore aggregation state: %w", err)
	}
	return nil
}
