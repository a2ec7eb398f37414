package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// TransformExecutor wraps one Transform plugin's invocations with audit
// recording (spec §4.5). One call to Execute is exactly one attempt —
// retry is external (internal/retry).
type TransformExecutor struct {
	recorder recorderAPI
	nodeID   string
	plugin   plugin.Transform
}

// NewTransformExecutor binds a Transform plugin to its registered node.
func NewTransformExecutor(recorder recorderAPI, nodeID string, p plugin.Transform) *TransformExecutor {
	return &TransformExecutor{recorder: recorder, nodeID: nodeID, plugin: p}
}

// Execute runs the plugin once against token's row data at stepIndex,
// returning the populated TransformResult and the token carrying the
// plugin's output (unchanged on error).
func (e *TransformExecutor) Execute(ctx context.Context, token contracts.TokenInfo, stepIndex int) (contracts.TransformResult, contracts.TokenInfo, error) {
	state, err := e.recorder.BeginNodeState(ctx, token.TokenID, e.nodeID, stepIndex, token.RowData)
	if err != nil {
		return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: begin node state: %w", err)
	}

	start := time.Now()
	result, err := e.plugin.Process(ctx, token.RowData)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if cErr := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateFailed, nil, duration, exceptionReason(err)); cErr != nil {
			return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: complete failed state: %w", cErr)
		}
		return contracts.TransformResult{}, token, err
	}

	result.InputHash = state.InputHash
	result.DurationMS = duration

	switch result.Status {
	case contracts.TransformSuccess:
		outputHash, hashErr := canonhash.Hash(result.Row)
		if hashErr != nil {
			return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: hash output: %w", hashErr)
		}
		result.OutputHash = outputHash
		if err := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateCompleted, result.Row, duration, nil); err != nil {
			return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: complete state: %w", err)
		}
		return result, token.WithRowData(result.Row), nil
	case contracts.TransformError:
		if result.Reason == nil {
			return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: error status requires a reason")
		}
		if err := result.Reason.Validate(); err != nil {
			return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: %w", err)
		}
		if err := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateFailed, nil, duration, result.Reason); err != nil {
			return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: complete failed state: %w", err)
		}
		return result, token, nil
	default:
		return contracts.TransformResult{}, token, fmt.Errorf("executors: transform: unknown result status %q", result.Status)
	}
}
