package contracts

import "time"

// TokenInfo is the in-memory identity carried through the DAG. It holds
// only identity and payload, never position: the Orchestrator/RowProcessor
// owns step_index explicitly (spec §3.3, §4.4).
type TokenInfo struct {
	RowID       string
	TokenID     string
	RowData     map[string]any
	BranchName  string // empty unless this token was produced by a fork
}

// Clone returns a TokenInfo carrying the same identity but an independent
// copy of RowData, so a plugin mutating its input map cannot retroactively
// change what was already hashed and recorded for a prior attempt.
func (t TokenInfo) Clone() TokenInfo {
	data := make(map[string]any, len(t.RowData))
	for k, v := range t.RowData {
		data[k] = v
	}
	return TokenInfo{RowID: t.RowID, TokenID: t.TokenID, RowData: data, BranchName: t.BranchName}
}

// WithRowData returns a copy of t with RowData replaced.
func (t TokenInfo) WithRowData(data map[string]any) TokenInfo {
	return TokenInfo{RowID: t.RowID, TokenID: t.TokenID, RowData: data, BranchName: t.BranchName}
}

// Run mirrors the Run entity (spec §3.1).
type Run struct {
	RunID                string
	StartedAt            time.Time
	CompletedAt          *time.Time
	Status               RunStatus
	ConfigHash           string
	SettingsJSON         map[string]any
	CanonicalVersion     string
	ReproducibilityGrade *ReproducibilityGrade
}

// PayloadRefRun is one payload-store reference surfaced by a retention
// scan (spec §4.14 find_expired_row_payloads): the hash to delete and the
// run it belongs to, so purge can degrade that run's grade once its refs
// are processed. The blob's size is not known until it is actually
// deleted from the payload store, which is where bytes_freed comes from.
type PayloadRefRun struct {
	RunID string
	Hash  string
}

// Node mirrors the Node entity. Determinism is required and immutable.
type Node struct {
	NodeID            string
	RunID             string
	PluginName        string
	PluginVersion     string
	NodeType          NodeType
	Determinism       Determinism
	ConfigHash        string
	ConfigJSON        map[string]any
	SequenceInPipeline *int
	SchemaHash        string
	RegisteredAt      time.Time
}

// EdgeInfo mirrors the Edge entity.
type EdgeInfo struct {
	EdgeID      string
	RunID       string
	FromNodeID  string
	ToNodeID    string
	Label       string
	DefaultMode RoutingMode
	CreatedAt   time.Time
}

// Row mirrors the Row entity.
type Row struct {
	RowID          string
	RunID          string
	SourceNodeID   string
	RowIndex       int
	SourceDataHash string
	SourceDataRef  *string // nil once purged
	CreatedAt      time.Time
}

// Token mirrors the Token entity.
type Token struct {
	TokenID    string
	RowID      string
	BranchName string
	CreatedAt  time.Time
}

// TokenParentLink mirrors the TokenParent entity.
type TokenParentLink struct {
	ParentTokenID string
	ChildTokenID  string
	StepInPipeline int
	Kind          TokenParentKind
}

// NodeState mirrors the NodeState entity: one row per attempt of a token at
// a node.
type NodeState struct {
	StateID     string
	TokenID     string
	NodeID      string
	Attempt     int
	StepIndex   int
	Status      NodeStateStatus
	InputHash   string
	OutputHash  *string
	InputRef    *string
	OutputRef   *string
	DurationMS  *int64
	ErrorJSON   map[string]any
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RoutingEvent mirrors the RoutingEvent entity.
type RoutingEvent struct {
	EventID    string
	StateID    string
	EdgeID     string
	Mode       RoutingMode
	ReasonJSON map[string]any
	RecordedAt time.Time
}

// Batch mirrors the Batch entity.
type Batch struct {
	BatchID           string
	RunID             string
	AggregationNodeID string
	Status            BatchStatus
	TriggerReason     string
	CreatedAt         time.Time
	FlushedAt         *time.Time
}

// BatchMember mirrors the BatchMember entity.
type BatchMember struct {
	BatchID string
	TokenID string
	Ordinal int
}

// Call mirrors the Call entity.
type Call struct {
	CallID         string
	StateID        string
	CallType       CallType
	Provider       string
	Status         CallStatus
	LatencyMS      int64
	RequestRef     *string
	ResponseRef    *string
	TokenUsageJSON map[string]any
	RecordedAt     time.Time
}

// Artifact mirrors the Artifact entity. ContentHash and SizeBytes are
// REQUIRED (spec I8).
type Artifact struct {
	ArtifactID   string
	RunID        string
	SinkNodeID   string
	StateID      string
	ArtifactType ArtifactType
	PathOrURI    string
	ContentHash  string
	SizeBytes    int64
	MetadataJSON map[string]any
	CreatedAt    time.Time
}

// Checkpoint mirrors the Checkpoint entity.
type Checkpoint struct {
	CheckpointID         string
	RunID                string
	TokenID              string
	NodeID               string
	SequenceNumber       int64
	AggregationStateJSON map[string]any
	VariablesHash        string // resolved config hash at checkpoint time
	CreatedAt            time.Time
}

// RowLineage is the response to explain_row (spec §4.3): the full audit
// trail for one row, with payloads inlined when still resolvable.
type RowLineage struct {
	Row              Row
	Tokens           []Token
	NodeStates       []NodeState
	RoutingEvents    []RoutingEvent
	Artifacts        []Artifact
	SourceData       map[string]any // nil if purged
	PayloadAvailable bool
}
