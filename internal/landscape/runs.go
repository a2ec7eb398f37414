package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/grader"
)

// CompleteRun sets the run's terminal status and, when known, its
// reproducibility grade directly. FinalizeRun is the usual entry point;
// this is exposed for callers (e.g. retention/purge) that recompute the
// grade themselves.
func (r *Recorder) CompleteRun(ctx context.Context, runID string, status contracts.RunStatus, grade *contracts.ReproducibilityGrade) error {
	now := time.Now().UTC()
	var gradeArg any
	if grade != nil {
		gradeArg = *grade
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $1, completed_at = $2, reproducibility_grade = COALESCE($3, reproducibility_grade)
		WHERE run_id = $4
	`, status, now, gradeArg, runID)
	if err != nil {
		return fmt.Errorf("landscape: complete run: %w", err)
	}
	return nil
}

// FinalizeRun computes the reproducibility grade from the run's registered
// nodes (spec §4.12) and delegates to CompleteRun.
func (r *Recorder) FinalizeRun(ctx context.Context, runID string, status contracts.RunStatus) error {
	rows, err := r.pool.Query(ctx, `SELECT determinism FROM nodes WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("landscape: finalize run: read node determinisms: %w", err)
	}
	defer rows.Close()

	var determinisms []contracts.Determinism
	for rows.Next() {
		var d contracts.Determinism
		if err := rows.Scan(&d); err != nil {
			return fmt.Errorf("landscape: finalize run: scan determinism: %w", err)
		}
		determinisms = append(determinisms, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("landscape: finalize run: %w", err)
	}

	grade := grader.Grade(determinisms)
	return r.CompleteRun(ctx, runID, status, &grade)
}

// UpdateReproducibilityGrade applies purge's one-way grade downgrade
// (spec §4.14) to a single run.
func (r *Recorder) UpdateReproducibilityGrade(ctx context.Context, runID string, grade contracts.ReproducibilityGrade) error {
	_, err := r.pool.Exec(ctx, `UPDATE runs SET reproducibility_grade = $1 WHERE run_id = $2`, grade, runID)
	if err != nil {
		return fmt.Errorf("landscape: update reproducibility grade: %w", err)
	}
	return nil
}
