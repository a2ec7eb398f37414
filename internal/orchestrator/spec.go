package orchestrator

import (
	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// NodeSpec is one position in a linear step sequence (spec §4.10/§4.11): a
// transform or a gate. GateRoutes names every label the gate's routing
// decisions may reference — the Orchestrator registers one Edge per label
// before a single row is processed, so a missing edge mid-run (spec I4)
// can only come from a label the gate returns that GateRoutes omits.
type NodeSpec struct {
	Kind       plugin.Kind
	Transform  plugin.Transform
	Gate       plugin.Gate
	GateRoutes []string
}

// BranchSpec is a named fork target (spec §4.6 "fork_to_paths"): its own
// step sequence, terminating at a sink. A branch's gates resolve their
// labels against sinks only, so branches do not nest: a fork inside a
// branch has no branch to send its children to, and the Orchestrator
// counts each such child as a failure.
type BranchSpec struct {
	Name     string
	Steps    []NodeSpec
	SinkName string
}

// AggregationSpec terminates the main step sequence in a batch-accepting
// node instead of falling through to a sink directly. FlushSinkName is
// where the aggregation's Flush output rows are written at run end.
type AggregationSpec struct {
	Plugin        plugin.Aggregation
	FlushSinkName string
}

// SinkSpec is a registered terminal write destination.
type SinkSpec struct {
	Name         string
	ArtifactType contracts.ArtifactType
	Plugin       plugin.Sink
}

// RunSpec is the full pipeline graph for one run (spec §4.11): a source,
// a main step sequence optionally ending in an aggregation, zero or more
// fork branches, and the sinks every path may terminate at.
type RunSpec struct {
	Source           plugin.Source
	SourceNodeID     string // not read by the Orchestrator; the source node's ID comes from registration
	MainSteps        []NodeSpec
	MainAggregation  *AggregationSpec // mutually exclusive with MainSinkName
	MainSinkName     string
	Branches         []BranchSpec
	Sinks            []SinkSpec
	Settings         map[string]any
	CanonicalVersion string
}
