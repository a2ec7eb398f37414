package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// CreateBatch creates a draft Batch for an aggregation node (spec §4.3).
func (r *Recorder) CreateBatch(ctx context.Context, runID, aggregationNodeID string) (*contracts.Batch, error) {
	batch := &contracts.Batch{
		BatchID:           newID(),
		RunID:             runID,
		AggregationNodeID: aggregationNodeID,
		Status:            contracts.BatchDraft,
		CreatedAt:         time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batches (batch_id, run_id, aggregation_node_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, batch.BatchID, batch.RunID, batch.AggregationNodeID, batch.Status, batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: create batch: %w", err)
	}
	return batch, nil
}

// AddBatchMember records a token's consumption into a batch. Rejected with
// ErrBatchNotDraft if the batch has already left draft status (spec I7).
func (r *Recorder) AddBatchMember(ctx context.Context, batchID, tokenID string, ordinal int) error {
	var status contracts.BatchStatus
	if err := r.pool.QueryRow(ctx, `SELECT status FROM batches WHERE batch_id = $1`, batchID).Scan(&status); err != nil {
		return fmt.Errorf("landscape: add batch member: read batch status: %w", err)
	}
	if status != contracts.BatchDraft {
		return contracts.ErrBatchNotDraft
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_members (batch_id, token_id, ordinal)
		VALUES ($1, $2, $3)
	`, batchID, tokenID, ordinal)
	if err != nil {
		return fmt.Errorf("landscape: add batch member: %w", err)
	}
	return nil
}

// UpdateBatchStatus transitions a batch's status, enforcing the I7
// lifecycle (draft -> executing|failed -> completed|failed).
func (r *Recorder) UpdateBatchStatus(ctx context.Context, batchID string, newStatus contracts.BatchStatus, triggerReason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("landscape: update batch status: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current contracts.BatchStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM batches WHERE batch_id = $1 FOR UPDATE`, batchID).Scan(&current); err != nil {
		return fmt.Errorf("landscape: update batch status: read current: %w", err)
	}
	if !current.CanTransitionTo(newStatus) {
		return contracts.ErrInvalidBatchTransition
	}

	var flushedAtArg any
	if newStatus == contracts.BatchCompleted || newStatus == contracts.BatchFailed {
		flushedAtArg = time.Now().UTC()
	}
	var triggerArg any
	if triggerReason != "" {
		triggerArg = triggerReason
	}

	if _, err := tx.Exec(ctx, `
		UPDATE batches SET status = $1, trigger_reason = COALESCE($2, trigger_reason), flushed_at = COALESCE($3, flushed_at)
		WHERE batch_id = $4
	`, newStatus, triggerArg, flushedAtArg, batchID); err != nil {
		return fmt.Errorf("landscape: update batch status: %w", err)
	}

	return tx.Commit(ctx)
}
