package executors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

type fakeRecorder struct {
	seq int

	states       map[string]*contracts.NodeState
	completed    map[string]contracts.NodeStateStatus
	routingCalls [][]contracts.RoutingDestination

	batches      map[string]*contracts.Batch
	batchMembers map[string][]string

	artifacts []*contracts.Artifact

	failBeginNodeState bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		states:       map[string]*contracts.NodeState{},
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
	if f.failBeginNodeState {
		return nil, errors.New("begin node state failed")
	}
	state := &contracts.NodeState{
		StateID:   f.nextID("state-"),
		TokenID:   tokenID,
		NodeID:    nodeID,
		StepIndex: stepIndex,
		Status:    contracts.NodeStateOpen,
		InputHash: "input-hash-" + tokenID,
	}
	f.states[state.StateID] = state
	return state, nil
}

func (f *fakeRecorder) CompleteNodeState(ctx context.Context, stateID string, status contracts.NodeStateStatus, outputData map[string]any, durationMS int64, errorReason *contracts.TransformErrorReason) error {
	if _, ok := f.completed[stateID]; ok {
		return contracts.ErrStateNotOpen
	}
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
	batch, ok := f.batches[batchID]
	if !ok {
		return errors.New("unknown batch")
	}
	if batch.Status != contracts.BatchDraft {
		return contracts.ErrBatchNotDraft
	}
	f.batchMembers[batchID] = append(f.batchMembers[batchID], tokenID)
	return nil
}

func (f *fakeRecorder) UpdateBatchStatus(ctx context.Context, batchID string, newStatus contracts.BatchStatus, triggerReason string) error {
	batch, ok := f.batches[batchID]
	if !ok {
		return errors.New("unknown batch")
	}
	if !batch.Status.CanTransitionTo(newStatus) {
		return contracts.ErrInvalidBatchTransition
	}
	batch.Status = newStatus
	return nil
}

func (f *fakeRecorder) RegisterArtifact(ctx context.Context, runID, stateID, sinkNodeID string, artifactType contracts.ArtifactType, pathOrURI, contentHash string, sizeBytes int64, metadata map[string]any) (*contracts.Artifact, error) {
	if contentHash == "" {
		return nil, errors.New("content hash required")
	}
	artifact := &contracts.Artifact{
		ArtifactID: f.nextID("artifact-"), RunID: runID, StateID: stateID, SinkNodeID: sinkNodeID,
		ArtifactType: artifactType, PathOrURI: pathOrURI, ContentHash: contentHash, SizeBytes: sizeBytes,
	}
	f.artifacts = append(f.artifacts, artifact)
	return artifact, nil
}

type fakeTransform struct {
	result contracts.TransformResult
	err    error
}

func (f *fakeTransform) Name() string                            { return "fake-transform" }
func (f *fakeTransform) Determinism() contracts.Determinism      { return contracts.DeterminismDeterministic }
func (f *fakeTransform) PluginVersion() string                   { return "1.0.0" }
func (f *fakeTransform) InputSchema() contracts.Schema            { return contracts.Schema{} }
func (f *fakeTransform) OutputSchema() contracts.Schema           { return contracts.Schema{} }
func (f *fakeTransform) OnStart(ctx context.Context) error        { return nil }
func (f *fakeTransform) Close() error                             { return nil }
func (f *fakeTransform) Process(ctx context.Context, row map[string]any) (contracts.TransformResult, error) {
	return f.result, f.err
}

func TestTransformExecutor_Success(t *testing.T) {
	rec := newFakeRecorder()
	p := &fakeTransform{result: contracts.TransformResult{Status: contracts.TransformSuccess, Row: map[string]any{"value": 2}}}
	exec := NewTransformExecutor(rec, "node-1", p)

	token := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{"value": 1}}
	result, updated, err := exec.Execute(context.Background(), token, 1)
	require.NoError(t, err)
	assert.Equal(t, contracts.TransformSuccess, result.Status)
	assert.NotEmpty(t, result.InputHash)
	assert.NotEmpty(t, result.OutputHash)
	assert.Equal(t, 2, updated.RowData["value"])
	assert.Equal(t, 1, len(rec.completed))
	for _, status := range rec.completed {
		assert.Equal(t, contracts.NodeStateCompleted, status)
	}
}

func TestTransformExecutor_BusinessError(t *testing.T) {
	rec := newFakeRecorder()
	reason := &contracts.TransformErrorReason{Reason: contracts.ReasonValidationFailed}
	p := &fakeTransform{result: contracts.TransformResult{Status: contracts.TransformError, Reason: reason}}
	exec := NewTransformExecutor(rec, "node-1", p)

	token := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{"value": 1}}
	result, updated, err := exec.Execute(context.Background(), token, 1)
	require.NoError(t, err)
	assert.Equal(t, contracts.TransformError, result.Status)
	assert.Equal(t, token, updated, "token is unchanged on error")
	for _, status := range rec.completed {
		assert.Equal(t, contracts.NodeStateFailed, status)
	}
}

func TestTransformExecutor_PluginException(t *testing.T) {
	rec := newFakeRecorder()
	p := &fakeTransform{err: errors.New("plugin panicked")}
	exec := NewTransformExecutor(rec, "node-1", p)

	token := contracts.TokenInfo{RowID: "row-1", TokenID: "tok-1", RowData: map[string]any{"value": 1}}
	_, _, err := exec.Execute(context.Background(), token, 1)
	require.Error(t, err)
	for _, status := range rec.completed {
		assert.Equal(t, contracts.NodeStateFailed, status)
	}
}
