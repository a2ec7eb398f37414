// Package retention implements the payload purge sweep of spec §4.14: for
// runs completed before a retention window, delete the payload-store blobs
// their rows/states/calls reference and degrade the affected runs'
// reproducibility grade. Landscape rows themselves are never deleted — only
// the blobs the payload store holds on their behalf.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/grader"
)

// payloadRef identifies one purgeable reference: a payload-store hash and
// the run it belongs to, so a failed delete can still be attributed and so
// the run's grade can be degraded once all of its refs are processed.
type payloadRef struct {
	runID string
	hash  string
}

// recorder is the slice of *landscape.Recorder this package depends on.
// Grounded on the narrow writer/reader interfaces internal/checkpoint
// already establishes for the same Recorder.
type recorder interface {
	ExpiredPayloadRefs(ctx context.Context, olderThan time.Time) ([]contracts.PayloadRefRun, error)
	RunReproducibilityGrade(ctx context.Context, runID string) (contracts.ReproducibilityGrade, error)
	UpdateReproducibilityGrade(ctx context.Context, runID string, grade contracts.ReproducibilityGrade) error
}

// payloads is the slice of payloadstore.Store this package depends on.
type payloads interface {
	Delete(ctx context.Context, hash string) (existed bool, sizeBytes int64, err error)
}

// FailedRef records one reference that could not be purged, so operators
// can decide whether to ignore it (spec §4.14 "idempotent: re-running
// purge against already-deleted refs yields failed_refs entries that may
// be ignored").
type FailedRef struct {
	RunID string
	Hash  string
	Err   string
}

// Result is the outcome of one Purge call (spec §4.14 PurgeResult).
type Result struct {
	DeletedCount    int
	BytesFreed      int64
	FailedRefs      []FailedRef
	DurationSeconds float64
	GradedRuns      int
}

// Service runs the retention sweep. It holds no schedule state itself —
// scheduling (cron, daemon loop) is the caller's concern, mirroring
// tarsy's cleanup.Service separating "what to clean" from "when to run".
type Service struct {
	recorder      recorder
	payloads      payloads
	retentionDays int
}

// NewService builds a Service. retentionDays must be positive; Purge
// refuses a non-positive window rather than silently purging everything.
func NewService(recorder recorder, payloads payloads, retentionDays int) *Service {
	return &Service{recorder: recorder, payloads: payloads, retentionDays: retentionDays}
}

// Purge deletes the payload-store blobs referenced by rows/states/calls of
// runs completed before now - retentionDays, then degrades the
// reproducibility grade of every run it touched (spec §4.12 purge clause:
// REPLAY_REPRODUCIBLE -> ATTRIBUTABLE_ONLY, others unchanged). dryRun
// reports what would be deleted without calling payloads.Delete or
// touching any run's grade.
func (s *Service) Purge(ctx context.Context, dryRun bool) (*Result, error) {
	if s.retentionDays <= 0 {
		return nil, fmt.Errorf("retention: retention_days must be positive, got %d", s.retentionDays)
	}
	start := time.Now()
	cutoff := start.AddDate(0, 0, -s.retentionDays).UTC()

	refs, err := s.recorder.ExpiredPayloadRefs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("retention: list expired payload refs: %w", err)
	}

	result := &Result{}
	affectedRuns := make(map[string]struct{})

	for _, ref := range refs {
		affectedRuns[ref.RunID] = struct{}{}
		if dryRun {
			result.DeletedCount++
			continue
		}
		existed, size, err := s.payloads.Delete(ctx, ref.Hash)
		if err != nil {
			result.FailedRefs = append(result.FailedRefs, FailedRef{RunID: ref.RunID, Hash: ref.Hash, Err: err.Error()})
			slog.Warn("retention: failed to delete payload", "run_id", ref.RunID, "hash", ref.Hash, "error", err)
			continue
		}
		if !existed {
			// Already gone: idempotent re-run, not a failure, but still
			// recorded so operators can see it was a no-op rather than a
			// silent skip.
			result.FailedRefs = append(result.FailedRefs, FailedRef{RunID: ref.RunID, Hash: ref.Hash, Err: "payload already absent"})
			continue
		}
		result.DeletedCount++
		result.BytesFreed += size
	}

	if !dryRun {
		for runID := range affectedRuns {
			if err := s.degradeRun(ctx, runID); err != nil {
				slog.Warn("retention: failed to degrade run grade after purge", "run_id", runID, "error", err)
				continue
			}
			result.GradedRuns++
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()
	return result, nil
}

// degradeRun applies grader.Degrade to runID's current grade and persists
// the result, wiring internal/grader's previously-unreachable Degrade
// function and internal/landscape's UpdateReproducibilityGrade into a real
// caller (spec §4.14, P5, P6).
func (s *Service) degradeRun(ctx context.Context, runID string) error {
	current, err := s.recorder.RunReproducibilityGrade(ctx, runID)
	if err != nil {
		return fmt.Errorf("retention: read current grade: %w", err)
	}
	degraded := grader.Degrade(current)
	if degraded == current {
		return nil
	}
	if err := s.recorder.UpdateReproducibilityGrade(ctx, runID, degraded); err != nil {
		return fmt.Errorf("retention: update grade: %w", err)
	}
	return nil
}
