package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// SinkExecutor writes a batch of tokens' rows through one Sink plugin
// (spec §4.8). It begins a node-state per token before the write so
// terminal state COMPLETED can be derived for every one of them, then
// completes (or fails) all of them together based on a single write call.
type SinkExecutor struct {
	recorder     recorderAPI
	runID        string
	nodeID       string
	artifactType contracts.ArtifactType
	plugin       plugin.Sink
}

// NewSinkExecutor binds a Sink plugin to its registered node within runID.
// artifactType classifies the kind of artifact this sink produces (spec
// §3.1 file|database|webhook).
func NewSinkExecutor(recorder recorderAPI, runID, nodeID string, artifactType contracts.ArtifactType, p plugin.Sink) *SinkExecutor {
	return &SinkExecutor{recorder: recorder, runID: runID, nodeID: nodeID, artifactType: artifactType, plugin: p}
}

// Write sends every token in tokens through the sink in one call, recording
// one node-state per token and, on success, a single Artifact (spec I8:
// content_hash and size_bytes are required).
func (e *SinkExecutor) Write(ctx context.Context, tokens []contracts.TokenInfo, stepIndex int) (*contracts.Artifact, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	stateIDs := make([]string, len(tokens))
	rows := make([]map[string]any, len(tokens))
	for i, tok := range tokens {
		state, err := e.recorder.BeginNodeState(ctx, tok.TokenID, e.nodeID, stepIndex, tok.RowData)
		if err != nil {
			return nil, fmt.Errorf("executors: sink: begin node state: %w", err)
		}
		stateIDs[i] = state.StateID
		rows[i] = tok.RowData
	}

	start := time.Now()
	write, err := e.plugin.Write(ctx, rows)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		for _, stateID := range stateIDs {
			if cErr := e.recorder.CompleteNodeState(ctx, stateID, contracts.NodeStateFailed, nil, duration, exceptionReason(err)); cErr != nil {
				return nil, fmt.Errorf("executors: sink: complete failed state: %w", cErr)
			}
		}
		return nil, err
	}

	if write.ContentHash == "" {
		missing := fmt.Errorf("executors: sink: write result missing content_hash (I8)")
		for _, stateID := range stateIDs {
			if cErr := e.recorder.CompleteNodeState(ctx, stateID, contracts.NodeStateFailed, nil, duration, exceptionReason(missing)); cErr != nil {
				return nil, fmt.Errorf("executors: sink: complete failed state: %w", cErr)
			}
		}
		return nil, missing
	}

	for _, stateID := range stateIDs {
		if err := e.recorder.CompleteNodeState(ctx, stateID, contracts.NodeStateCompleted, nil, duration, nil); err != nil {
			return nil, fmt.Errorf("executors: sink: complete state: %w", err)
		}
	}

	artifact, err := e.recorder.RegisterArtifact(ctx, e.runID, stateIDs[0], e.nodeID, e.artifactType, write.PathOrURI, write.ContentHash, write.SizeBytes, write.Metadata)
	if err != nil {
		return nil, fmt.Errorf("executors: sink: register artifact: %w", err)
	}
	return artifact, nil
}
