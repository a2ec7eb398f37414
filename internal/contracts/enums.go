// Package contracts holds the immutable value types shared across the
// engine's package boundaries: enums, results, routing decisions, identity
// values, artifact descriptors, and the error-reason schema. Nothing in
// this package talks to the Landscape or a plugin; it is pure data.
package contracts

// NodeType classifies a registered graph vertex.
type NodeType string

const (
	NodeTypeSource      NodeType = "source"
	NodeTypeTransform   NodeType = "transform"
	NodeTypeGate        NodeType = "gate"
	NodeTypeAggregation NodeType = "aggregation"
	NodeTypeCoalesce    NodeType = "coalesce"
	NodeTypeSink        NodeType = "sink"
)

// Valid reports whether n is one of the closed set of node types.
func (n NodeType) Valid() bool {
	switch n {
	case NodeTypeSource, NodeTypeTransform, NodeTypeGate, NodeTypeAggregation, NodeTypeCoalesce, NodeTypeSink:
		return true
	default:
		return false
	}
}

// Determinism is a REQUIRED, declared property of a node. There is no
// default value: a node without one fails registration (spec I9).
type Determinism string

const (
	DeterminismDeterministic  Determinism = "deterministic"
	DeterminismSeeded         Determinism = "seeded"
	DeterminismIORead         Determinism = "io_read"
	DeterminismIOWrite        Determinism = "io_write"
	DeterminismExternalCall   Determinism = "external_call"
	DeterminismNonDeterministic Determinism = "non_deterministic"
)

func (d Determinism) Valid() bool {
	switch d {
	case DeterminismDeterministic, DeterminismSeeded, DeterminismIORead,
		DeterminismIOWrite, DeterminismExternalCall, DeterminismNonDeterministic:
		return true
	default:
		return false
	}
}

// RoutingMode governs whether a routed token continues to exist at its
// source position (copy) or is considered moved (move).
type RoutingMode string

const (
	RoutingModeMove RoutingMode = "move"
	RoutingModeCopy RoutingMode = "copy"
)

func (m RoutingMode) Valid() bool {
	return m == RoutingModeMove || m == RoutingModeCopy
}

// RoutingKind is the kind of decision a gate returned.
type RoutingKind string

const (
	RoutingKindContinue RoutingKind = "continue"
	RoutingKindRoute    RoutingKind = "route_to_sink"
	RoutingKindFork     RoutingKind = "fork_to_paths"
)

// RowOutcome is the outcome the RowProcessor assigns to a single row's
// journey through its sequence of plugins (spec §4.10). It is NOT the
// token's derived terminal state (see TerminalState) — RowOutcome is the
// processor's own bookkeeping signal for the Orchestrator to route on.
type RowOutcome string

const (
	RowOutcomeCompleted RowOutcome = "completed"
	RowOutcomeRouted    RowOutcome = "routed"
	RowOutcomeForked    RowOutcome = "forked"
	RowOutcomeConsumed  RowOutcome = "consumed"
	RowOutcomeFailed    RowOutcome = "failed"
)

// TerminalState is the DERIVED (never stored) classification of a token's
// end, per spec I5. It is computed from relational evidence by the
// Landscape recorder's explain/derivation queries, not assigned directly.
type TerminalState string

const (
	TerminalCompleted        TerminalState = "completed"
	TerminalRouted           TerminalState = "routed"
	TerminalForked           TerminalState = "forked"
	TerminalCoalesced        TerminalState = "coalesced"
	TerminalConsumedInBatch  TerminalState = "consumed_in_batch"
	TerminalQuarantined      TerminalState = "quarantined"
	TerminalFailed           TerminalState = "failed"
)

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ReproducibilityGrade is computed at run finalization (spec §4.12) and may
// only degrade (never improve) on purge.
type ReproducibilityGrade string

const (
	GradeFullReproducible    ReproducibilityGrade = "full_reproducible"
	GradeReplayReproducible  ReproducibilityGrade = "replay_reproducible"
	GradeAttributableOnly    ReproducibilityGrade = "attributable_only"
)

// NodeStateStatus is the status of a single (token, node, attempt) record.
type NodeStateStatus string

const (
	NodeStateOpen      NodeStateStatus = "open"
	NodeStateCompleted NodeStateStatus = "completed"
	NodeStateFailed    NodeStateStatus = "failed"
	NodeStateRejected  NodeStateStatus = "rejected"
)

// BatchStatus is the lifecycle status of an aggregation Batch (spec I7).
type BatchStatus string

const (
	BatchDraft     BatchStatus = "draft"
	BatchExecuting BatchStatus = "executing"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// CanTransitionTo enforces the I7 batch lifecycle: draft may accept members
// and move to executing or failed; executing may only move to completed or
// failed; completed/failed are terminal.
func (b BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch b {
	case BatchDraft:
		return next == BatchExecuting || next == BatchFailed
	case BatchExecuting:
		return next == BatchCompleted || next == BatchFailed
	default:
		return false
	}
}

// CallType classifies an external call recorded against a node-state.
type CallType string

const (
	CallTypeLLM        CallType = "llm"
	CallTypeHTTP       CallType = "http"
	CallTypeSQL        CallType = "sql"
	CallTypeFilesystem CallType = "filesystem"
)

// CallStatus is the outcome of a single external call.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusError   CallStatus = "error"
)

// ArtifactType classifies a sink's output artifact.
type ArtifactType string

const (
	ArtifactTypeFile     ArtifactType = "file"
	ArtifactTypeDatabase ArtifactType = "database"
	ArtifactTypeWebhook  ArtifactType = "webhook"
)

// TokenParentKind distinguishes a fork edge from a coalesce edge in
// token_parents (spec §3.1).
type TokenParentKind string

const (
	TokenParentFork     TokenParentKind = "fork"
	TokenParentCoalesce TokenParentKind = "coalesce"
)
