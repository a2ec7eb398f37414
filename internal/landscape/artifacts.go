package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// RegisterArtifact records one sink write. content_hash and size_bytes are
// REQUIRED (spec I8) — callers must have already written the artifact and
// hashed it; this method does not touch the payload store itself, since
// artifacts may live outside it (files on disk, rows in another database,
// a webhook response).
func (r *Recorder) RegisterArtifact(ctx context.Context, runID, stateID, sinkNodeID string, artifactType contracts.ArtifactType, pathOrURI, contentHash string, sizeBytes int64, metadata map[string]any) (*contracts.Artifact, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("landscape: register artifact: content_hash is required (I8)")
	}

	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return nil, fmt.Errorf("landscape: marshal artifact metadata: %w", err)
	}
	var metadataArg any
	if metadata != nil {
		metadataArg = metadataJSON
	}

	artifact := &contracts.Artifact{
		ArtifactID:   newID(),
		RunID:        runID,
		SinkNodeID:   sinkNodeID,
		StateID:      stateID,
		ArtifactType: artifactType,
		PathOrURI:    pathOrURI,
		ContentHash:  contentHash,
		SizeBytes:    sizeBytes,
		MetadataJSON: metadata,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO artifacts (artifact_id, run_id, sink_node_id, state_id, artifact_type, path_or_uri, content_hash, size_bytes, metadata_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, artifact.ArtifactID, artifact.RunID, artifact.SinkNodeID, artifact.StateID, artifact.ArtifactType,
		artifact.PathOrURI, artifact.ContentHash, artifact.SizeBytes, metadataArg, artifact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: register artifact: %w", err)
	}
	return artifact, nil
}

// RecordCall records one external call against the enclosing node-state.
// request/response bodies, if given, are stored in the payload store and
// referenced by hash.
func (r *Recorder) RecordCall(ctx context.Context, stateID string, callType contracts.CallType, provider string, status contracts.CallStatus, latencyMS int64, request, response []byte, tokenUsage *contracts.TokenUsage) (*contracts.Call, error) {
	var requestRefArg, responseRefArg any
	if request != nil {
		ref, err := r.payloads.Store(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("landscape: store call request: %w", err)
		}
		requestRefArg = ref
	}
	if response != nil {
		ref, err := r.payloads.Store(ctx, response)
		if err != nil {
			return nil, fmt.Errorf("landscape: store call response: %w", err)
		}
		responseRefArg = ref
	}

	var usageJSON map[string]any
	if tokenUsage != nil {
		usageJSON = map[string]any{}
		if tokenUsage.PromptTokens != nil {
			usageJSON["prompt_tokens"] = *tokenUsage.PromptTokens
		}
		if tokenUsage.CompletionTokens != nil {
			usageJSON["completion_tokens"] = *tokenUsage.CompletionTokens
		}
		if tokenUsage.TotalTokens != nil {
			usageJSON["total_tokens"] = *tokenUsage.TotalTokens
		}
	}
	usageArg, err := marshalJSON(usageJSON)
	if err != nil {
		return nil, fmt.Errorf("landscape: marshal token usage: %w", err)
	}
	var usageArgVal any
	if usageJSON != nil {
		usageArgVal = usageArg
	}

	call := &contracts.Call{
		CallID:         newID(),
		StateID:        stateID,
		CallType:       callType,
		Provider:       provider,
		Status:         status,
		LatencyMS:      latencyMS,
		TokenUsageJSON: usageJSON,
		RecordedAt:     time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO calls (call_id, state_id, call_type, provider, status, latency_ms, request_ref, response_ref, token_usage_json, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, call.CallID, call.StateID, call.CallType, call.Provider, call.Status, call.LatencyMS,
		requestRefArg, responseRefArg, usageArgVal, call.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: record call: %w", err)
	}
	return call, nil
}
