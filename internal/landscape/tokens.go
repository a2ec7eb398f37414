package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// CreateRow canonically hashes data, stores it in the payload store, and
// creates the Row (spec §4.3). rowID, if empty, is generated.
func (r *Recorder) CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*contracts.Row, error) {
	canonical, err := canonhash.Canonicalize(data)
	if err != nil {
		return nil, fmt.Errorf("landscape: canonicalize row data: %w", err)
	}
	hash, err := canonhash.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("landscape: hash row data: %w", err)
	}
	ref, err := r.payloads.Store(ctx, []byte(canonical))
	if err != nil {
		return nil, fmt.Errorf("landscape: store row payload: %w", err)
	}

	if rowID == "" {
		rowID = newID()
	}
	row := &contracts.Row{
		RowID:          rowID,
		RunID:          runID,
		SourceNodeID:   sourceNodeID,
		RowIndex:       rowIndex,
		SourceDataHash: hash,
		SourceDataRef:  &ref,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rows_ (row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, row.RowID, row.RunID, row.SourceNodeID, row.RowIndex, row.SourceDataHash, ref, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: create row: %w", err)
	}
	return row, nil
}

// CreateToken creates the initial Token for a row. tokenID, if empty, is
// generated.
func (r *Recorder) CreateToken(ctx context.Context, rowID, tokenID string) (*contracts.Token, error) {
	if tokenID == "" {
		tokenID = newID()
	}
	tok := &contracts.Token{
		TokenID:   tokenID,
		RowID:     rowID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, branch_name, created_at)
		VALUES ($1, $2, NULL, $3)
	`, tok.TokenID, tok.RowID, tok.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: create token: %w", err)
	}
	return tok, nil
}

// ForkToken creates one child token per branch and records a
// token_parents(kind=fork) link for each, inside a single transaction.
func (r *Recorder) ForkToken(ctx context.Context, parentTokenID, rowID string, branches []string, stepInPipeline int) ([]contracts.Token, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("landscape: fork token: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	children := make([]contracts.Token, 0, len(branches))
	now := time.Now().UTC()
	for _, branch := range branches {
		child := contracts.Token{
			TokenID:    newID(),
			RowID:      rowID,
			BranchName: branch,
			CreatedAt:  now,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tokens (token_id, row_id, branch_name, created_at)
			VALUES ($1, $2, $3, $4)
		`, child.TokenID, child.RowID, child.BranchName, child.CreatedAt); err != nil {
			return nil, fmt.Errorf("landscape: fork token: insert child %q: %w", branch, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO token_parents (parent_token_id, child_token_id, step_in_pipeline, kind)
			VALUES ($1, $2, $3, $4)
		`, parentTokenID, child.TokenID, stepInPipeline, contracts.TokenParentFork); err != nil {
			return nil, fmt.Errorf("landscape: fork token: link child %q: %w", branch, err)
		}
		children = append(children, child)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("landscape: fork token: commit: %w", err)
	}
	return children, nil
}

// CoalesceTokens creates a merged child token and records a
// token_parents(kind=coalesce) link for each parent, inside a single
// transaction.
func (r *Recorder) CoalesceTokens(ctx context.Context, parentTokenIDs []string, rowID string, stepInPipeline int) (*contracts.Token, error) {
	if len(parentTokenIDs) == 0 {
		return nil, fmt.Errorf("landscape: coalesce tokens: no parents given")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("landscape: coalesce tokens: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	child := &contracts.Token{
		TokenID:   newID(),
		RowID:     rowID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, branch_name, created_at)
		VALUES ($1, $2, NULL, $3)
	`, child.TokenID, child.RowID, child.CreatedAt); err != nil {
		return nil, fmt.Errorf("landscape: coalesce tokens: insert child: %w", err)
	}

	batch := &pgx.Batch{}
	for _, parentID := range parentTokenIDs {
		batch.Queue(`
			INSERT INTO token_parents (parent_token_id, child_token_id, step_in_pipeline, kind)
			VALUES ($1, $2, $3, $4)
		`, parentID, child.TokenID, stepInPipeline, contracts.TokenParentCoalesce)
	}
	br := tx.SendBatch(ctx, batch)
	for range parentTokenIDs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("landscape: coalesce tokens: link parent: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("landscape: coalesce tokens: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("landscape: coalesce tokens: commit: %w", err)
	}
	return child, nil
}
