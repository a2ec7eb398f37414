package rowprocessor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/executors"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// fakeRecorder satisfies executors' unexported recorderAPI structurally —
// Go interface satisfaction is by method set, not by package.
type fakeRecorder struct {
	seq          int
	completed    map[string]contracts.NodeStateStatus
	routingCalls [][]contracts.RoutingDestination
	batches      map[string]*contracts.Batch
	batchMembers map[string][]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		completed:    map[string]contracts.NodeStateStatus{},
		batches:      map[string]*contracts.Batch{},
		batchMembers: map[string][]string{},
	}
}

func (f *fakeRecorder) nextID(prefix string) string {
	f.seq++
	return prefix + string(rune('0'+f.seq))
}

func (f *fakeRecorder) BeginNodeState(ctx context.Context, tokenID, nodeID string, stepIndex int, inputData map[string]any) (*contracts.NodeState, error) {
	return &contracts.NodeState{StateID: f.nextID("state-"), TokenID: tokenID, NodeID: nodeID, StepIndex: stepIndex, Status: contracts.NodeStateOpen}, nil
}

func (f *fakeRecorder) CompleteNodeState(ctx context.Context, stateID string, status contracts.NodeStateStatus, outputData map[string]any, durationMS int64, errorReason *contracts.TransformErrorReason) error {
	f.completed[stateID] = status
	return nil
}

func (f *fakeRecorder) RecordRoutingEvent(ctx context.Context, stateID, edgeID string, mode contracts.RoutingMode, reason map[string]any) (*contracts.RoutingEvent, error) {
	f.routingCalls = append(f.routingCalls, []contracts.RoutingDestination{{EdgeID: edgeID, Mode: mode}})
	return &contracts.RoutingEvent{EventID: f.nextID("event-"), StateID: stateID, EdgeID: edgeID, Mode: mode}, nil
}

func (f *fakeRecorder) RecordRoutingEvents(ctx context.Context, stateID string, routes []contracts.RoutingDestination, reason map[string]any) ([]contracts.RoutingEvent, error) {
	f.routingCalls = append(f.routingCalls, routes)
	events := make([]contracts.RoutingEvent, len(routes))
	for i, r := range routes {
		events[i] = contracts.RoutingEvent{EventID: f.nextID("event-"), StateID: stateID, EdgeID: r.EdgeID, Mode: r.Mode}
	}
	return events, nil
}

func (f *fakeRecorder) CreateBatch(ctx context.Context, runID, aggregationNodeID string) (*contracts.Batch, error) {
	batch := &contracts.Batch{BatchID: f.nextID("batch-"), RunID: runID, AggregationNodeID: aggregationNodeID, Status: contracts.BatchDraft}
	f.batches[batch.BatchID] = batch
	return batch, nil
}

func (f *fakeRecorder) AddBatchMember(ctx context.Context, batchID, tokenID string, ordinal int) error {
	f.batchMembers[batchID] = append(f.batchMembers[batchID], tokenID)
	return nil
}

func (f *fakeRecorder) UpdateBatchStatus(ctx context.Context, batchID string, newStatus contracts.BatchStatus, triggerReason string) error {
	f.batches[batchID].Status = newStatus
	return nil
}

func (f *fakeRecorder) RegisterArtifact(ctx context.Context, runID, stateID, sinkNodeID string, artifactType contracts.ArtifactType, pathOrURI, contentHash string, sizeBytes int64, metadata map[string]any) (*contracts.Artifact, error) {
	return &contracts.Artifact{ArtifactID: f.nextID("artifact-"), ContentHash: contentHash, SizeBytes: sizeBytes}, nil
}

type fakeEdges struct{ edges map[string]string }

func newFakeEdges() *fakeEdges { return &fakeEdges{edges: map[string]string{}} }

func (f *fakeEdges) register(nodeID, label, edgeID string) { f.edges[nodeID+"|"+label] = edgeID }

func (f *fakeEdges) Resolve(nodeID, label string) (string, bool) {
	id, ok := f.edges[nodeID+"|"+label]
	return id, ok
}

type fakeForker struct{}

func (f *fakeForker) Fork(ctx context.Context, parent contracts.TokenInfo, branches []string, stepInPipeline int) ([]contracts.TokenInfo, error) {
	out := make([]contracts.TokenInfo, len(branches))
	for i, b := range branches {
		out[i] = contracts.TokenInfo{RowID: parent.RowID, TokenID: "child-" + b, RowData: parent.RowData, BranchName: b}
	}
	return out, nil
}

type fakeTransform struct {
	result contracts.TransformResult
	err    error
}

func (f *fakeTransform) Name() string                       { return "fake-transform" }
func (f *fakeTransform) Determinism() contracts.Determinism { return contracts.DeterminismDeterministic }
func (f *fakeTransform) PluginVersion() string               { return "1.0.0" }
func (f *fakeTransform) InputSchema() contracts.Schema       { return contracts.Schema{} }
func (f *fakeTransform) OutputSchema() contracts.Schema      { return contracts.Schema{} }
func (f *fakeTransform) OnStart(ctx context.Context) error   { return nil }
func (f *fakeTransform) Close() error                        { return nil }
func (f *fakeTransform) Process(ctx context.Context, row map[string]any) (contracts.TransformResult, error) {
	return f.result, f.err
}

type fakeGate struct {
	result contracts.GateResult
	err    error
}

func (f *fakeGate) Name() string                       { return "fake-gate" }
func (f *fakeGate) Determinism() contracts.Determinism { return contracts.DeterminismDeterministic }
func (f *fakeGate) PluginVersion() string               { return "1.0.0" }
func (f *fakeGate) InputSchema() contracts.Schema       { return contracts.Schema{} }
func (f *fakeGate) OnStart(ctx context.Context) error    { return nil }
func (f *fakeGate) Close() error                         { return nil }
func (f *fakeGate) Evaluate(ctx context.Context, row map[string]any) (contracts.GateResult, error) {
	return f.result, f.err
}

type fakeAggregation struct {
	result contracts.AcceptResult
	err    error
}

func (f *fakeAggregation) Name() string                       { return "fake-aggregation" }
func (f *fakeAggregation) Determinism() contracts.Determinism { return contracts.DeterminismDeterministic }
func (f *fakeAggregation) PluginVersion() string               { return "1.0.0" }
func (f *fakeAggregation) InputSchema() contracts.Schema       { return contracts.Schema{} }
func (f *fakeAggregation) OnStart(ctx context.Context) error    { return nil }
func (f *fakeAggregation) Close() error                         { return nil }
func (f *fakeAggregation) Accept(ctx context.Context, row map[string]any) (contracts.AcceptResult, error) {
	return f.result, f.err
}
func (f *fakeAggregation) Flush(ctx context.Context) ([]map[string]any, error) { return nil, nil }

func newToken() contracts.TokenInfo {
	return contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{"value": 1}}
}

func TestProcessor_AllTransformsComplete(t *testing.T) {
	rec := newFakeRecorder()
	t1 := executors.NewTransformExecutor(rec, "t1", &fakeTransform{result: contracts.TransformResult{Status: contracts.TransformSuccess, Row: map[string]any{"value": 2}}})
	t2 := executors.NewTransformExecutor(rec, "t2", &fakeTransform{result: contracts.TransformResult{Status: contracts.TransformSuccess, Row: map[string]any{"value": 3}}})

	p := New([]Step{
		{NodeID: "t1", Kind: plugin.KindTransform, Transform: t1},
		{NodeID: "t2", Kind: plugin.KindTransform, Transform: t2},
	})

	result := p.ProcessRow(context.Background(), newToken())
	require.NoError(t, result.Err)
	assert.Equal(t, contracts.RowOutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.UpdatedToken.RowData["value"])
}

func TestProcessor_TransformBusinessErrorFails(t *testing.T) {
	rec := newFakeRecorder()
	reason := &contracts.TransformErrorReason{Reason: contracts.ReasonValidationFailed}
	t1 := executors.NewTransformExecutor(rec, "t1", &fakeTransform{result: contracts.TransformResult{Status: contracts.TransformError, Reason: reason}})

	p := New([]Step{{NodeID: "t1", Kind: plugin.KindTransform, Transform: t1}})
	result := p.ProcessRow(context.Background(), newToken())
	assert.Equal(t, contracts.RowOutcomeFailed, result.Outcome)
	require.Error(t, result.Err)
}

func TestProcessor_GateRoutesToSink(t *testing.T) {
	rec := newFakeRecorder()
	edges := newFakeEdges()
	edges.register("gate-1", "high", "edge-high")
	g := executors.NewGateExecutor(rec, edges, &fakeForker{}, "gate-1",
		&fakeGate{result: contracts.GateResult{Row: map[string]any{"value": 1}, Action: contracts.RouteToSinkAction("high", contracts.RoutingModeMove, nil)}})

	p := New([]Step{{NodeID: "gate-1", Kind: plugin.KindGate, Gate: g}})
	result := p.ProcessRow(context.Background(), newToken())
	require.NoError(t, result.Err)
	assert.Equal(t, contracts.RowOutcomeRouted, result.Outcome)
	assert.Equal(t, "high", result.SinkName)
}

func TestProcessor_GateForksToPaths(t *testing.T) {
	rec := newFakeRecorder()
	edges := newFakeEdges()
	edges.register("gate-1", "left", "edge-left")
	edges.register("gate-1", "right", "edge-right")
	g := executors.NewGateExecutor(rec, edges, &fakeForker{}, "gate-1",
		&fakeGate{result: contracts.GateResult{Row: map[string]any{"value": 1}, Action: contracts.ForkToPathsAction([]string{"left", "right"}, nil)}})

	p := New([]Step{{NodeID: "gate-1", Kind: plugin.KindGate, Gate: g}})
	result := p.ProcessRow(context.Background(), newToken())
	require.NoError(t, result.Err)
	assert.Equal(t, contracts.RowOutcomeForked, result.Outcome)
	assert.Len(t, result.ChildTokens, 2)
}

func TestProcessor_GateMissingEdgeFailsRow(t *testing.T) {
	rec := newFakeRecorder()
	edges := newFakeEdges()
	g := executors.NewGateExecutor(rec, edges, &fakeForker{}, "gate-1",
		&fakeGate{result: contracts.GateResult{Row: map[string]any{"value": 1}, Action: contracts.RouteToSinkAction("missing", contracts.RoutingModeMove, nil)}})

	p := New([]Step{{NodeID: "gate-1", Kind: plugin.KindGate, Gate: g}})
	result := p.ProcessRow(context.Background(), newToken())
	assert.Equal(t, contracts.RowOutcomeFailed, result.Outcome)
	var missing *contracts.MissingEdgeError
	require.ErrorAs(t, result.Err, &missing)
}

func TestProcessor_AggregationAcceptedConsumesRow(t *testing.T) {
	rec := newFakeRecorder()
	agg := executors.NewAggregationExecutor(rec, "run-1", "agg-1", &fakeAggregation{result: contracts.AcceptResult{Accepted: true}})

	p := New([]Step{{NodeID: "agg-1", Kind: plugin.KindAggregation, Aggregation: agg}})
	result := p.ProcessRow(context.Background(), newToken())
	require.NoError(t, result.Err)
	assert.Equal(t, contracts.RowOutcomeConsumed, result.Outcome)
}

func TestProcessor_AggregationRejectedFailsRow(t *testing.T) {
	rec := newFakeRecorder()
	agg := executors.NewAggregationExecutor(rec, "run-1", "agg-1", &fakeAggregation{result: contracts.AcceptResult{Accepted: false}})

	p := New([]Step{{NodeID: "agg-1", Kind: plugin.KindAggregation, Aggregation: agg}})
	result := p.ProcessRow(context.Background(), newToken())
	assert.Equal(t, contracts.RowOutcomeFailed, result.Outcome)
	assert.True(t, errors.Is(result.Err, ErrRowRejected))
}

func TestProcessor_TransformThenGateContinueThenAggregation(t *testing.T) {
	rec := newFakeRecorder()
	t1 := executors.NewTransformExecutor(rec, "t1", &fakeTransform{result: contracts.TransformResult{Status: contracts.TransformSuccess, Row: map[string]any{"value": 5}}})
	edges := newFakeEdges()
	g := executors.NewGateExecutor(rec, edges, &fakeForker{}, "gate-1",
		&fakeGate{result: contracts.GateResult{Row: map[string]any{"value": 5}, Action: contracts.ContinueAction()}})
	agg := executors.NewAggregationExecutor(rec, "run-1", "agg-1", &fakeAggregation{result: contracts.AcceptResult{Accepted: true}})

	p := New([]Step{
		{NodeID: "t1", Kind: plugin.KindTransform, Transform: t1},
		{NodeID: "gate-1", Kind: plugin.KindGate, Gate: g},
		{NodeID: "agg-1", Kind: plugin.KindAggregation, Aggregation: agg},
	})
	result := p.ProcessRow(context.Background(), newToken())
	require.NoError(t, result.Err)
	assert.Equal(t, contracts.RowOutcomeConsumed, result.Outcome)
}
