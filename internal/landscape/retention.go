package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// ExpiredPayloadRefs returns every payload-store reference (row source
// data, node-state input/output, call request/response) owned by a run
// that completed before olderThan (spec §4.14 find_expired_row_payloads).
// It relies on idx_runs_completed_status, the index the schema's initial
// migration already carries for exactly this scan.
func (r *Recorder) ExpiredPayloadRefs(ctx context.Context, olderThan time.Time) ([]contracts.PayloadRefRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, ref FROM (
			SELECT ro.run_id AS run_id, ro.source_data_ref AS ref
			FROM rows_ ro
			JOIN runs rn ON rn.run_id = ro.run_id
			WHERE rn.status = $2 AND rn.completed_at < $1 AND ro.source_data_ref IS NOT NULL

			UNION ALL

			SELECT t.run_id AS run_id, ns.input_ref AS ref
			FROM node_states ns
			JOIN tokens tk ON tk.token_id = ns.token_id JOIN rows_ t ON t.row_id = tk.row_id
			JOIN runs rn ON rn.run_id = t.run_id
			WHERE rn.status = $2 AND rn.completed_at < $1 AND ns.input_ref IS NOT NULL

			UNION ALL

			SELECT t.run_id AS run_id, ns.output_ref AS ref
			FROM node_states ns
			JOIN tokens tk ON tk.token_id = ns.token_id JOIN rows_ t ON t.row_id = tk.row_id
			JOIN runs rn ON rn.run_id = t.run_id
			WHERE rn.status = $2 AND rn.completed_at < $1 AND ns.output_ref IS NOT NULL

			UNION ALL

			SELECT t.run_id AS run_id, c.request_ref AS ref
			FROM calls c
			JOIN node_states ns ON ns.state_id = c.state_id
			JOIN tokens tk ON tk.token_id = ns.token_id JOIN rows_ t ON t.row_id = tk.row_id
			JOIN runs rn ON rn.run_id = t.run_id
			WHERE rn.status = $2 AND rn.completed_at < $1 AND c.request_ref IS NOT NULL

			UNION ALL

			SELECT t.run_id AS run_id, c.response_ref AS ref
			FROM calls c
			JOIN node_states ns ON ns.state_id = c.state_id
			JOIN tokens tk ON tk.token_id = ns.token_id JOIN rows_ t ON t.row_id = tk.row_id
			JOIN runs rn ON rn.run_id = t.run_id
			WHERE rn.status = $2 AND rn.completed_at < $1 AND c.response_ref IS NOT NULL
		) expired
	`, olderThan, contracts.RunStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("landscape: expired payload refs: %w", err)
	}
	defer rows.Close()

	var refs []contracts.PayloadRefRun
	for rows.Next() {
		var ref contracts.PayloadRefRun
		if err := rows.Scan(&ref.RunID, &ref.Hash); err != nil {
			return nil, fmt.Errorf("landscape: expired payload refs: scan: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// RunReproducibilityGrade returns the current grade of runID, used by
// retention/purge to compute the one-way downgrade before writing it back
// with UpdateReproducibilityGrade.
func (r *Recorder) RunReproducibilityGrade(ctx context.Context, runID string) (contracts.ReproducibilityGrade, error) {
	var grade *contracts.ReproducibilityGrade
	err := r.pool.QueryRow(ctx, `SELECT reproducibility_grade FROM runs WHERE run_id = $1`, runID).Scan(&grade)
	if err != nil {
		return "", fmt.Errorf("landscape: run reproducibility grade: %w", err)
	}
	if grade == nil {
		return contracts.GradeFullReproducible, nil
	}
	return *grade, nil
}
