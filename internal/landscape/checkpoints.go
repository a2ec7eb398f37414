package landscape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// CreateCheckpoint writes one Checkpoint row (spec §4.13 write path). The
// Recorder remains the Landscape's only writer even for this table, which
// the checkpoint/recovery component (C10) otherwise owns the policy for.
func (r *Recorder) CreateCheckpoint(ctx context.Context, runID, tokenID, nodeID string, sequenceNumber int64, aggregationState map[string]any, variables map[string]any) (*contracts.Checkpoint, error) {
	variablesHash, err := canonhash.Hash(variables)
	if err != nil {
		return nil, fmt.Errorf("landscape: hash checkpoint variables: %w", err)
	}
	aggJSON, err := marshalJSON(aggregationState)
	if err != nil {
		return nil, fmt.Errorf("landscape: marshal aggregation state: %w", err)
	}
	var aggArg any
	if aggregationState != nil {
		aggArg = aggJSON
	}

	cp := &contracts.Checkpoint{
		CheckpointID:         newID(),
		RunID:                runID,
		TokenID:              tokenID,
		NodeID:               nodeID,
		SequenceNumber:       sequenceNumber,
		AggregationStateJSON: aggregationState,
		VariablesHash:        variablesHash,
		CreatedAt:            time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO checkpoints (checkpoint_id, run_id, token_id, node_id, sequence_number, aggregation_state_json, variables_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, cp.CheckpointID, cp.RunID, cp.TokenID, cp.NodeID, cp.SequenceNumber, aggArg, cp.VariablesHash, cp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: create checkpoint: %w", err)
	}
	return cp, nil
}

// DeleteCheckpointsForRun removes every checkpoint for a run, called on
// successful completion (spec §4.13 "on successful run completion, all
// checkpoints for the run are deleted").
func (r *Recorder) DeleteCheckpointsForRun(ctx context.Context, runID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("landscape: delete checkpoints: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the checkpoint with the highest sequence_number
// for a run, or (nil, false) if none exist.
func (r *Recorder) LatestCheckpoint(ctx context.Context, runID string) (*contracts.Checkpoint, bool, error) {
	var cp contracts.Checkpoint
	var aggJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT checkpoint_id, run_id, token_id, node_id, sequence_number, aggregation_state_json, variables_hash, created_at
		FROM checkpoints WHERE run_id = $1
		ORDER BY sequence_number DESC LIMIT 1
	`, runID).Scan(&cp.CheckpointID, &cp.RunID, &cp.TokenID, &cp.NodeID, &cp.SequenceNumber, &aggJSON, &cp.VariablesHash, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("landscape: latest checkpoint: %w", err)
	}
	cp.AggregationStateJSON, err = unmarshalJSON(aggJSON)
	if err != nil {
		return nil, false, fmt.Errorf("landscape: latest checkpoint: unmarshal aggregation state: %w", err)
	}
	return &cp, true, nil
}

// HasCheckpoints reports whether any checkpoint exists for runID, one of
// the can_resume preconditions (spec §4.13).
func (r *Recorder) HasCheckpoints(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM checkpoints WHERE run_id = $1)`, runID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("landscape: has checkpoints: %w", err)
	}
	return exists, nil
}

// RunStatus returns the current status of a run, used by can_resume.
func (r *Recorder) RunStatus(ctx context.Context, runID string) (contracts.RunStatus, error) {
	var status contracts.RunStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM runs WHERE run_id = $1`, runID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("landscape: run status: %w", err)
	}
	return status, nil
}

// UnprocessedRows returns row_ids whose latest attempt at any sink node is
// not completed (spec §4.13 get_unprocessed_rows): "latest attempt" is
// max(attempt) per (token_id, node_id), joined through tokens, rows, run,
// and filtered to sink node_type=sink.
func (r *Recorder) UnprocessedRows(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT r.row_id
		FROM rows_ r
		WHERE r.run_id = $1
		AND r.row_id NOT IN (
			SELECT DISTINCT t.row_id
			FROM node_states ns
			JOIN nodes n ON n.node_id = ns.node_id
			JOIN tokens t ON t.token_id = ns.token_id
			JOIN (
				SELECT token_id, node_id, MAX(attempt) AS max_attempt
				FROM node_states
				GROUP BY token_id, node_id
			) latest ON latest.token_id = ns.token_id AND latest.node_id = ns.node_id AND latest.max_attempt = ns.attempt
			WHERE n.node_type = $2 AND ns.status = $3
		)
	`, runID, contracts.NodeTypeSink, contracts.NodeStateCompleted)
	if err != nil {
		return nil, fmt.Errorf("landscape: unprocessed rows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("landscape: unprocessed rows: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
