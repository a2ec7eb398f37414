package tokens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

type fakeRecorder struct {
	rowSeq   int
	tokenSeq int
}

func (f *fakeRecorder) nextID(prefix string, seq *int) string {
	*seq++
	return prefix + string(rune('0'+*seq))
}

func (f *fakeRecorder) CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*contracts.Row, error) {
	if rowID == "" {
		rowID = f.nextID("row-", &f.rowSeq)
	}
	return &contracts.Row{RowID: rowID, RunID: runID, SourceNodeID: sourceNodeID, RowIndex: rowIndex}, nil
}

func (f *fakeRecorder) CreateToken(ctx context.Context, rowID, tokenID string) (*contracts.Token, error) {
	if tokenID == "" {
		tokenID = f.nextID("tok-", &f.tokenSeq)
	}
	return &contracts.Token{TokenID: tokenID, RowID: rowID}, nil
}

func (f *fakeRecorder) ForkToken(ctx context.Context, parentTokenID, rowID string, branches []string, stepInPipeline int) ([]contracts.Token, error) {
	out := make([]contracts.Token, len(branches))
	for i, b := range branches {
		out[i] = contracts.Token{TokenID: f.nextID("tok-", &f.tokenSeq), RowID: rowID, BranchName: b}
	}
	return out, nil
}

func (f *fakeRecorder) CoalesceTokens(ctx context.Context, parentTokenIDs []string, rowID string, stepInPipeline int) (*contracts.Token, error) {
	return &contracts.Token{TokenID: f.nextID("tok-", &f.tokenSeq), RowID: rowID}, nil
}

func TestManager_NewRow(t *testing.T) {
	m := New(&fakeRecorder{})
	tok, err := m.NewRow(context.Background(), "run-1", "src-1", 0, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.RowID)
	assert.NotEmpty(t, tok.TokenID)
	assert.Equal(t, 1, tok.RowData["x"])
}

func TestManager_ForkProducesIndependentRowData(t *testing.T) {
	m := New(&fakeRecorder{})
	parent := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{"x": 1}}

	children, err := m.Fork(context.Background(), parent, []string{"left", "right"}, 3)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "left", children[0].BranchName)
	assert.Equal(t, "right", children[1].BranchName)

	children[0].RowData["x"] = 99
	assert.Equal(t, 1, parent.RowData["x"], "mutating a child's row data must not affect the parent or siblings")
	assert.Equal(t, 1, children[1].RowData["x"])
}

func TestManager_Coalesce(t *testing.T) {
	m := New(&fakeRecorder{})
	parents := []contracts.TokenInfo{
		{RowID: "row-1", TokenID: "tok-1"},
		{RowID: "row-1", TokenID: "tok-2"},
	}
	merged, err := m.Coalesce(context.Background(), parents, 5, map[string]any{"combined": true})
	require.NoError(t, err)
	assert.Equal(t, "row-1", merged.RowID)
	assert.Equal(t, true, merged.RowData["combined"])
}

func TestManager_CoalesceRequiresParents(t *testing.T) {
	m := New(&fakeRecorder{})
	_, err := m.Coalesce(context.Background(), nil, 0, nil)
	assert.Error(t, err)
}
