package contracts

import "time"

// TransformStatus is the business-level outcome of a transform invocation.
type TransformStatus string

const (
	TransformSuccess TransformStatus = "success"
	TransformError   TransformStatus = "error"
)

// TransformResult is returned by a Transform plugin's Process method
// (spec §6). InputHash/OutputHash/DurationMS are audit fields the
// TransformExecutor populates after the call returns; the plugin itself
// never sets them.
type TransformResult struct {
	Status     TransformStatus
	Row        map[string]any
	Reason     *TransformErrorReason
	InputHash  string
	OutputHash string
	DurationMS int64
}

// RoutingAction is a gate's decision (spec §4.6, §6).
type RoutingAction struct {
	Kind         RoutingKind
	Destinations []string // one label for route_to_sink, many for fork_to_paths
	Mode         RoutingMode
	Reason       map[string]any
}

// ContinueAction builds the "continue" routing decision.
func ContinueAction() RoutingAction {
	return RoutingAction{Kind: RoutingKindContinue}
}

// RouteToSinkAction builds a single-destination routing decision.
func RouteToSinkAction(label string, mode RoutingMode, reason map[string]any) RoutingAction {
	return RoutingAction{Kind: RoutingKindRoute, Destinations: []string{label}, Mode: mode, Reason: reason}
}

// ForkToPathsAction builds a fan-out routing decision. Mode for fork is
// always copy (spec §4.6).
func ForkToPathsAction(labels []string, reason map[string]any) RoutingAction {
	return RoutingAction{Kind: RoutingKindFork, Destinations: labels, Mode: RoutingModeCopy, Reason: reason}
}

// GateResult is returned by a Gate plugin's Evaluate method.
type GateResult struct {
	Row    map[string]any
	Action RoutingAction
}

// GateOutcome is what GateExecutor returns to the RowProcessor (spec §4.6).
type GateOutcome struct {
	Result       GateResult
	UpdatedToken TokenInfo
	ChildTokens  []TokenInfo
	SinkName     string // set only when Result.Action.Kind == RoutingKindRoute
}

// AcceptResult is returned by an Aggregation plugin's Accept method.
type AcceptResult struct {
	Accepted bool
	Trigger  bool // true if the plugin wants a flush now
	BatchID  string
}

// RoutingDestination names one (edge, mode) pair for a multi-destination
// routing decision (fork_to_paths records one routing_event per label).
type RoutingDestination struct {
	EdgeID string
	Mode   RoutingMode
}

// RowResult is what RowProcessor returns for a single source row (spec
// §4.10).
type RowResult struct {
	Outcome      RowOutcome
	UpdatedToken TokenInfo
	ChildTokens  []TokenInfo
	SinkName     string
	Err          error
}

// SinkWriteResult is returned by a Sink plugin's Write method (spec §6).
// ContentHash and SizeBytes are REQUIRED.
type SinkWriteResult struct {
	PathOrURI   string
	ContentHash string
	SizeBytes   int64
	Metadata    map[string]any
}

// ArtifactDescriptor is the engine-side view of a sink write before it is
// persisted as an Artifact row.
type ArtifactDescriptor struct {
	SinkNodeID   string
	StateID      string
	ArtifactType ArtifactType
	Write        SinkWriteResult
	CreatedAt    time.Time
}
