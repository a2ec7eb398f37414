// Package executors wraps every plugin invocation with the audit recording
// the Landscape requires: one node-state per attempt, timing, and routing
// events, mirroring tarsy's StageService/TimelineService "thin service that
// times a call and writes one audit row" shape (pkg/services/stage_service.go,
// pkg/agent/orchestrator/runner.go's runSubAgent/completeSubAgent split).
package executors

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// recorderAPI is the slice of landscape.Recorder's operations the
// executors depend on. Declaring it here, rather than depending on
// *landscape.Recorder directly, lets tests fake the Landscape without a
// live Postgres connection.
type recorderAPI interface {
	BeginNodeState(ctx context.Context, tokenID, nodeID string, stepIndex int, inputData map[string]any) (*contracts.NodeState, error)
	CompleteNodeState(ctx context.Context, stateID string, status contracts.NodeStateStatus, outputData map[string]any, durationMS int64, errorReason *contracts.TransformErrorReason) error
	RecordRoutingEvent(ctx context.Context, stateID, edgeID string, mode contracts.RoutingMode, reason map[string]any) (*contracts.RoutingEvent, error)
	RecordRoutingEvents(ctx context.Context, stateID string, routes []contracts.RoutingDestination, reason map[string]any) ([]contracts.RoutingEvent, error)
	CreateBatch(ctx context.Context, runID, aggregationNodeID string) (*contracts.Batch, error)
	AddBatchMember(ctx context.Context, batchID, tokenID string, ordinal int) error
	UpdateBatchStatus(ctx context.Context, batchID string, newStatus contracts.BatchStatus, triggerReason string) error
	RegisterArtifact(ctx context.Context, runID, stateID, sinkNodeID string, artifactType contracts.ArtifactType, pathOrURI, contentHash string, sizeBytes int64, metadata map[string]any) (*contracts.Artifact, error)
}

// forkerAPI is the slice of tokens.Manager's operations GateExecutor needs
// for fork_to_paths decisions.
type forkerAPI interface {
	Fork(ctx context.Context, parent contracts.TokenInfo, branches []string, stepInPipeline int) ([]contracts.TokenInfo, error)
}

// exceptionReason builds the TransformErrorReason the executors attach to
// a node-state when the plugin call itself returned a Go error (spec §7
// "Plugin exception ... Recorded (status=failed, error={exception, type})")
// rather than a business TransformResult.
func exceptionReason(err error) *contracts.TransformErrorReason {
	return &contracts.TransformErrorReason{
		Reason: contracts.ReasonUnknownInternalError,
		Error:  err.Error(),
	}
}
