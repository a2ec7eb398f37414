package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// EdgeResolver looks up a registered edge by (from_node_id, label), the
// edge_map the Orchestrator builds at graph registration (spec §4.11, §9).
type EdgeResolver interface {
	Resolve(nodeID, label string) (edgeID string, ok bool)
}

// GateExecutor wraps one Gate plugin's invocations (spec §4.6). Unlike
// TransformExecutor it never returns a failed node-state for a business
// decision: node_state.status is always completed for a successful
// evaluation. A routing decision to an unregistered edge is fatal (I4) and
// is never recorded as a routing_event.
type GateExecutor struct {
	recorder recorderAPI
	edges    EdgeResolver
	forker   forkerAPI
	nodeID   string
	plugin   plugin.Gate
}

// NewGateExecutor binds a Gate plugin to its registered node, the edge
// resolver it routes against, and the token manager it forks through.
func NewGateExecutor(recorder recorderAPI, edges EdgeResolver, forker forkerAPI, nodeID string, p plugin.Gate) *GateExecutor {
	return &GateExecutor{recorder: recorder, edges: edges, forker: forker, nodeID: nodeID, plugin: p}
}

// Execute runs the gate once against token's row data at stepIndex.
func (e *GateExecutor) Execute(ctx context.Context, token contracts.TokenInfo, stepIndex int) (contracts.GateOutcome, error) {
	state, err := e.recorder.BeginNodeState(ctx, token.TokenID, e.nodeID, stepIndex, token.RowData)
	if err != nil {
		return contracts.GateOutcome{}, fmt.Errorf("executors: gate: begin node state: %w", err)
	}

	start := time.Now()
	result, err := e.plugin.Evaluate(ctx, token.RowData)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if cErr := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateFailed, nil, duration, exceptionReason(err)); cErr != nil {
			return contracts.GateOutcome{}, fmt.Errorf("executors: gate: complete failed state: %w", cErr)
		}
		return contracts.GateOutcome{}, err
	}

	updated := token.WithRowData(result.Row)
	outcome := contracts.GateOutcome{Result: result, UpdatedToken: updated}

	switch result.Action.Kind {
	case contracts.RoutingKindContinue:
		// no routing_event for continue.

	case contracts.RoutingKindRoute:
		if len(result.Action.Destinations) != 1 {
			return contracts.GateOutcome{}, fmt.Errorf("executors: gate: route_to_sink requires exactly one destination, got %d", len(result.Action.Destinations))
		}
		label := result.Action.Destinations[0]
		edgeID, ok := e.edges.Resolve(e.nodeID, label)
		if !ok {
			// Fatal per I4: the enclosing attempt is still completed with
			// status=failed so the run's finalize sees the failure, but no
			// routing_event is recorded.
			_ = e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateFailed, nil, duration,
				&contracts.TransformErrorReason{Reason: contracts.ReasonConfigurationError, Error: "missing registered edge"})
			return contracts.GateOutcome{}, &contracts.MissingEdgeError{NodeID: e.nodeID, Label: label}
		}
		if _, err := e.recorder.RecordRoutingEvent(ctx, state.StateID, edgeID, result.Action.Mode, result.Action.Reason); err != nil {
			return contracts.GateOutcome{}, fmt.Errorf("executors: gate: record routing event: %w", err)
		}
		outcome.SinkName = label

	case contracts.RoutingKindFork:
		routes := make([]contracts.RoutingDestination, 0, len(result.Action.Destinations))
		for _, label := range result.Action.Destinations {
			edgeID, ok := e.edges.Resolve(e.nodeID, label)
			if !ok {
				_ = e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateFailed, nil, duration,
					&contracts.TransformErrorReason{Reason: contracts.ReasonConfigurationError, Error: "missing registered edge"})
				return contracts.GateOutcome{}, &contracts.MissingEdgeError{NodeID: e.nodeID, Label: label}
			}
			routes = append(routes, contracts.RoutingDestination{EdgeID: edgeID, Mode: contracts.RoutingModeCopy})
		}
		if _, err := e.recorder.RecordRoutingEvents(ctx, state.StateID, routes, result.Action.Reason); err != nil {
			return contracts.GateOutcome{}, fmt.Errorf("executors: gate: record routing events: %w", err)
		}
		children, err := e.forker.Fork(ctx, updated, result.Action.Destinations, stepIndex)
		if err != nil {
			return contracts.GateOutcome{}, fmt.Errorf("executors: gate: fork: %w", err)
		}
		outcome.ChildTokens = children

	default:
		return contracts.GateOutcome{}, fmt.Errorf("executors: gate: unknown routing kind %q", result.Action.Kind)
	}

	if err := e.recorder.CompleteNodeState(ctx, state.StateID, contracts.NodeStateCompleted, result.Row, duration, nil); err != nil {
		return contracts.GateOutcome{}, fmt.Errorf("executors: gate: complete state: %w", err)
	}
	return outcome, nil
}
