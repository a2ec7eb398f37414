// Package tokens is the high-level wrapper around the Landscape's identity
// operations (spec §4.4): it produces and threads TokenInfo values so
// callers never construct one by hand or touch the Recorder's raw
// (token_id, row_id) tuples directly.
package tokens

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// recorderAPI is the slice of landscape.Recorder's identity operations
// this package depends on. Declaring it here (rather than depending on
// *landscape.Recorder directly) lets tests fake the Landscape without a
// live Postgres connection, the same narrow-interface idiom tarsy uses for
// its own service-over-ent-client wrappers.
type recorderAPI interface {
	CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*contracts.Row, error)
	CreateToken(ctx context.Context, rowID, tokenID string) (*contracts.Token, error)
	ForkToken(ctx context.Context, parentTokenID, rowID string, branches []string, stepInPipeline int) ([]contracts.Token, error)
	CoalesceTokens(ctx context.Context, parentTokenIDs []string, rowID string, stepInPipeline int) (*contracts.Token, error)
}

// Manager mirrors the Landscape's identity operations as in-memory
// TokenInfo values, matching tarsy's SessionService shape: a thin service
// object over the recorder, no state of its own.
type Manager struct {
	recorder recorderAPI
}

// New wraps recorder.
func New(recorder recorderAPI) *Manager {
	return &Manager{recorder: recorder}
}

// NewRow creates a Row and its initial Token together, returning the
// TokenInfo a RowProcessor threads through the DAG.
func (m *Manager) NewRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any) (contracts.TokenInfo, error) {
	return m.ResumeRow(ctx, runID, sourceNodeID, rowIndex, "", data)
}

// ResumeRow is NewRow with an optional existing row_id: resume (spec
// §4.13) replays a row that was already created in a prior, failed attempt
// at this run under its original row_id — preserving P1's "exactly one
// row_id per source row" — but always mints a fresh token_id for the
// replay, so the re-attempt's node_states attach to a token of their own
// rather than colliding with the attempt numbering of the token that
// already ran partway through the pipeline. existingRowID empty means
// "this row was never created before," the ordinary NewRow case.
func (m *Manager) ResumeRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, existingRowID string, data map[string]any) (contracts.TokenInfo, error) {
	rowID := existingRowID
	if rowID == "" {
		row, err := m.recorder.CreateRow(ctx, runID, sourceNodeID, rowIndex, data, "")
		if err != nil {
			return contracts.TokenInfo{}, fmt.Errorf("tokens: new row: %w", err)
		}
		rowID = row.RowID
	}
	tok, err := m.recorder.CreateToken(ctx, rowID, "")
	if err != nil {
		return contracts.TokenInfo{}, fmt.Errorf("tokens: new row: create token: %w", err)
	}
	return contracts.TokenInfo{RowID: rowID, TokenID: tok.TokenID, RowData: data}, nil
}

// Fork creates one child token per branch, each carrying an independent
// copy of parent's row data (the branch's transform may diverge it).
// Step position is never inside TokenInfo (spec §4.4) — callers pass
// stepInPipeline explicitly.
func (m *Manager) Fork(ctx context.Context, parent contracts.TokenInfo, branches []string, stepInPipeline int) ([]contracts.TokenInfo, error) {
	children, err := m.recorder.ForkToken(ctx, parent.TokenID, parent.RowID, branches, stepInPipeline)
	if err != nil {
		return nil, fmt.Errorf("tokens: fork: %w", err)
	}
	out := make([]contracts.TokenInfo, len(children))
	for i, child := range children {
		branch := parent.Clone()
		branch.TokenID = child.TokenID
		branch.BranchName = child.BranchName
		out[i] = branch
	}
	return out, nil
}

// Coalesce merges parents into one child token carrying mergedData (the
// aggregation/coalesce plugin's combined output).
func (m *Manager) Coalesce(ctx context.Context, parents []contracts.TokenInfo, stepInPipeline int, mergedData map[string]any) (contracts.TokenInfo, error) {
	if len(parents) == 0 {
		return contracts.TokenInfo{}, fmt.Errorf("tokens: coalesce: no parents given")
	}
	parentIDs := make([]string, len(parents))
	for i, p := range parents {
		parentIDs[i] = p.TokenID
	}
	child, err := m.recorder.CoalesceTokens(ctx, parentIDs, parents[0].RowID, stepInPipeline)
	if err != nil {
		return contracts.TokenInfo{}, fmt.Errorf("tokens: coalesce: %w", err)
	}
	return contracts.TokenInfo{RowID: child.RowID, TokenID: child.TokenID, RowData: mergedData}, nil
}
