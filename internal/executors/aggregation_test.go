package executors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

type fakeAggregation struct {
	acceptResult contracts.AcceptResult
	acceptErr    error
	flushOutputs []map[string]any
	flushErr     error
}

func (f *fakeAggregation) Name() string                       { return "fake-aggregation" }
func (f *fakeAggregation) Determinism() contracts.Determinism { return contracts.DeterminismDeterministic }
func (f *fakeAggregation) PluginVersion() string               { return "1.0.0" }
func (f *fakeAggregation) InputSchema() contracts.Schema       { return contracts.Schema{} }
func (f *fakeAggregation) OnStart(ctx context.Context) error   { return nil }
func (f *fakeAggregation) Close() error                        { return nil }
func (f *fakeAggregation) Accept(ctx context.Context, row map[string]any) (contracts.AcceptResult, error) {
	return f.acceptResult, f.acceptErr
}
func (f *fakeAggregation) Flush(ctx context.Context) ([]map[string]any, error) {
	return f.flushOutputs, f.flushErr
}

func TestAggregationExecutor_AcceptCreatesBatchOnFirstCall(t *testing.T) {
	rec := newFakeRecorder()
	agg := &fakeAggregation{acceptResult: contracts.AcceptResult{Accepted: true}}
	exec := NewAggregationExecutor(rec, "run-1", "agg-1", agg)

	tok1 := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{}}
	res, err := exec.Accept(context.Background(), tok1, 1)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.BatchID)

	tok2 := contracts.TokenInfo{RowID: "row-2", TokenID: "tok-2", RowData: map[string]any{}}
	res2, err := exec.Accept(context.Background(), tok2, 1)
	require.NoError(t, err)
	assert.Equal(t, res.BatchID, res2.BatchID, "second accept reuses the open batch")
	assert.Len(t, rec.batchMembers[res.BatchID], 2)
}

func TestAggregationExecutor_Rejected(t *testing.T) {
	rec := newFakeRecorder()
	agg := &fakeAggregation{acceptResult: contracts.AcceptResult{Accepted: false}}
	exec := NewAggregationExecutor(rec, "run-1", "agg-1", agg)

	tok := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{}}
	res, err := exec.Accept(context.Background(), tok, 1)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	for _, status := range rec.completed {
		assert.Equal(t, contracts.NodeStateRejected, status)
	}
}

func TestAggregationExecutor_FlushSuccessResetsBatch(t *testing.T) {
	rec := newFakeRecorder()
	agg := &fakeAggregation{
		acceptResult: contracts.AcceptResult{Accepted: true},
		flushOutputs: []map[string]any{{"merged": true}},
	}
	exec := NewAggregationExecutor(rec, "run-1", "agg-1", agg)

	tok := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{}}
	accepted, err := exec.Accept(context.Background(), tok, 1)
	require.NoError(t, err)

	outputs, err := exec.Flush(context.Background(), "size_threshold")
	require.NoError(t, err)
	assert.Equal(t, agg.flushOutputs, outputs)
	assert.Equal(t, contracts.BatchCompleted, rec.batches[accepted.BatchID].Status)

	_, err = exec.Flush(context.Background(), "size_threshold")
	require.Error(t, err, "flush with no open batch is rejected")
}

func TestAggregationExecutor_FlushFailureMarksBatchFailed(t *testing.T) {
	rec := newFakeRecorder()
	agg := &fakeAggregation{
		acceptResult: contracts.AcceptResult{Accepted: true},
		flushErr:     errors.New("flush blew up"),
	}
	exec := NewAggregationExecutor(rec, "run-1", "agg-1", agg)

	tok := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{}}
	accepted, err := exec.Accept(context.Background(), tok, 1)
	require.NoError(t, err)

	_, err = exec.Flush(context.Background(), "size_threshold")
	require.Error(t, err)
	assert.Equal(t, contracts.BatchFailed, rec.batches[accepted.BatchID].Status)
}
