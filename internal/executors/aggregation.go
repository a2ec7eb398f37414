package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// AggregationExecutor wraps one Aggregation plugin's accept/flush cycle
// (spec §4.7). It tracks the plugin's currently open draft batch as
// transient in-memory state — ownership of that bookkeeping belongs to the
// executor, never to the Landscape (spec §3.3).
type AggregationExecutor struct {
	recorder recorderAPI
	runID    string
	nodeID   string
	plugin   plugin.Aggregation

	ordinal int
	batchID string
}

// NewAggregationExecutor binds an Aggregation plugin to its registered
// node within runID.
func NewAggregationExecutor(recorder recorderAPI, runID, nodeID string, p plugin.Aggregation) *AggregationExecutor {
	return &AggregationExecutor{recorder: recorder, runID: runID, nodeID: nodeID, plugin: p}
}

// Accept offers one token's row to the aggregation plugin (spec §4.7 accept).
func (e *AggregationExecutor) Accept(ctx context.Context, token contracts.TokenInfo, stepIndex int) (contracts.AcceptResult, error) {
	if e.batchID == "" {
		batch, err := e.recorder.CreateBatch(ctx, e.runID, e.nodeID)
		if err != nil {
			return contracts.AcceptResult{}, fmt.Errorf("executors: aggregation: create batch: %w", err)
		}
		e.batchID = batch.BatchID
		e.ordinal = 0
	}

	state, err := e.recorder.BeginNodeState(ctx, token.TokenID, e.nodeID, stepIndex, token.RowData)
	if err != nil {
		return contracts.AcceptResult{}, fmt.Errorf("executors: aggregation: begin node state: %w", err)
	}

	start := time.Now()
	result, err := e.plugin.Accept(ctx, token.RowData)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if cErr := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateFailed, nil, duration, exceptionReason(err)); cErr != nil {
			return contracts.AcceptResult{}, fmt.Errorf("executors: aggregation: complete failed state: %w", cErr)
		}
		return contracts.AcceptResult{}, err
	}

	if !result.Accepted {
		if err := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateRejected, nil, duration, nil); err != nil {
			return contracts.AcceptResult{}, fmt.Errorf("executors: aggregation: complete rejected state: %w", err)
		}
		return result, nil
	}

	if err := e.recorder.AddBatchMember(ctx, e.batchID, token.TokenID, e.ordinal); err != nil {
		return contracts.AcceptResult{}, fmt.Errorf("executors: aggregation: add batch member: %w", err)
	}
	e.ordinal++

	if err := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateCompleted, nil, duration, nil); err != nil {
		return contracts.AcceptResult{}, fmt.Errorf("executors: aggregation: complete state: %w", err)
	}
	result.BatchID = e.batchID
	return result, nil
}

// Flush drains the aggregation plugin's buffer (spec §4.7 flush). On
// success the executor resets its open batch so the next Accept starts a
// fresh one.
func (e *AggregationExecutor) Flush(ctx context.Context, triggerReason string) ([]map[string]any, error) {
	if e.batchID == "" {
		return nil, fmt.Errorf("executors: aggregation: flush called with no open batch")
	}
	batchID := e.batchID

	if err := e.recorder.UpdateBatchStatus(ctx, batchID, contracts.BatchExecuting, triggerReason); err != nil {
		return nil, fmt.Errorf("executors: aggregation: flush: mark executing: %w", err)
	}

	outputs, err := e.plugin.Flush(ctx)
	if err != nil {
		if uErr := e.recorder.UpdateBatchStatus(ctx, batchID, contracts.BatchFailed, ""); uErr != nil {
			return nil, fmt.Errorf("executors: aggregation: flush: mark failed: %w", uErr)
		}
		return nil, err
	}

	if err := e.recorder.UpdateBatchStatus(ctx, batchID, contracts.BatchCompleted, ""); err != nil {
		return nil, fmt.Errorf("executors: aggregation: flush: mark completed: %w", err)
	}
	e.batchID = ""
	return outputs, nil
}
