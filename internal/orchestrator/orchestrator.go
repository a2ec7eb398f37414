// Package orchestrator drives one run end to end (spec §4.11): register
// the graph, build the edge_map, pull rows from the source, walk each one
// through its step sequence via rowprocessor, and write every sink's
// accumulated output before finalizing the run. It mirrors the shape of
// tarsy's WorkerPool.Start/Stop (pkg/queue/pool.go) — spin up the work,
// drain it, shut everything down in a deferred cleanup — but the
// Landscape is never a claimable work queue (spec.md §1): rows are pulled
// from an in-process source iterator, not popped with FOR UPDATE SKIP
// LOCKED.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/executors"
	"github.com/tachyon-beep/elspeth/internal/rowprocessor"
	"github.com/tachyon-beep/elspeth/internal/tokens"
	"github.com/tachyon-beep/elspeth/pkg/plugin"
)

// recorderAPI is the union of every Landscape operation a run touches:
// lifecycle (BeginRun/RegisterNode/RegisterEdge/FinalizeRun), identity
// (tokens.Manager's slice), and per-attempt recording (executors'
// slice). Declaring the union here — rather than depending on
// *landscape.Recorder — keeps the Orchestrator unit-testable with a
// single fake, the same narrow-interface idiom as every package beneath
// it.
type recorderAPI interface {
	BeginRun(ctx context.Context, settings map[string]any, canonicalVersion string) (*contracts.Run, error)
	RegisterNode(ctx context.Context, runID, pluginName string, nodeType contracts.NodeType, pluginVersion string, determinism contracts.Determinism, config map[string]any, schemaHash string, sequence *int) (*contracts.Node, error)
	RegisterEdge(ctx context.Context, runID, fromNode, toNode, label string, mode contracts.RoutingMode) (*contracts.EdgeInfo, error)
	FinalizeRun(ctx context.Context, runID string, status contracts.RunStatus) error

	CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*contracts.Row, error)
	CreateToken(ctx context.Context, rowID, tokenID string) (*contracts.Token, error)
	ForkToken(ctx context.Context, parentTokenID, rowID string, branches []string, stepInPipeline int) ([]contracts.Token, error)
	CoalesceTokens(ctx context.Context, parentTokenIDs []string, rowID string, stepInPipeline int) (*contracts.Token, error)

	RowsForRun(ctx context.Context, runID string) ([]contracts.Row, error)
	NodesForRun(ctx context.Context, runID string) ([]contracts.Node, error)
	EdgesForRun(ctx context.Context, runID string) ([]contracts.EdgeInfo, error)
	UnprocessedRows(ctx context.Context, runID string) ([]string, error)

	BeginNodeState(ctx context.Context, tokenID, nodeID string, stepIndex int, inputData map[string]any) (*contracts.NodeState, error)
	CompleteNodeState(ctx context.Context, stateID string, status contracts.NodeStateStatus, outputData map[string]any, durationMS int64, errorReason *contracts.TransformErrorReason) error
	RecordRoutingEvent(ctx context.Context, stateID, edgeID string, mode contracts.RoutingMode, reason map[string]any) (*contracts.RoutingEvent, error)
	RecordRoutingEvents(ctx context.Context, stateID string, routes []contracts.RoutingDestination, reason map[string]any) ([]contracts.RoutingEvent, error)
	CreateBatch(ctx context.Context, runID, aggregationNodeID string) (*contracts.Batch, error)
	AddBatchMember(ctx context.Context, batchID, tokenID string, ordinal int) error
	UpdateBatchStatus(ctx context.Context, batchID string, newStatus contracts.BatchStatus, triggerReason string) error
	RegisterArtifact(ctx context.Context, runID, stateID, sinkNodeID string, artifactType contracts.ArtifactType, pathOrURI, contentHash string, sizeBytes int64, metadata map[string]any) (*contracts.Artifact, error)
}

type branchRuntime struct {
	processor *rowprocessor.Processor
	sinkName  string
}

type sinkRuntime struct {
	nodeID    string
	executor  *executors.SinkExecutor
	plugin    plugin.Sink
	stepIndex int
	buffered  []contracts.TokenInfo
}

// Orchestrator runs one RunSpec to completion.
type Orchestrator struct {
	recorder recorderAPI
	tokenMgr *tokens.Manager
	spec     RunSpec

	edges edgeMap

	branches map[string]branchRuntime
	sinks    map[string]sinkRuntime

	mainProcessor *rowprocessor.Processor
	mainSinkName  string

	aggExecutor  *executors.AggregationExecutor
	aggNodeID    string
	aggFlushSink string

	checkpoints *checkpoint.Manager

	// existingNodes/existingEdges are non-nil only while resuming: they
	// hold the prior attempt's registered graph, and getOrRegisterNode/
	// getOrRegisterEdge look there instead of writing new rows, so a
	// resumed run continues under its original node_ids (spec §9
	// "reconstruct_graph") rather than duplicating its own graph.
	existingNodes map[nodeKey]contracts.Node
	existingEdges map[string]string

	failures int
}

type nodeKey struct {
	nodeType   contracts.NodeType
	pluginName string
	sequence   int
}

// New builds an Orchestrator over recorder and spec. recorder must satisfy
// every narrower interface this run's collaborators (tokens.Manager,
// the executors package) declare — any *landscape.Recorder does.
func New(recorder recorderAPI, spec RunSpec) *Orchestrator {
	return &Orchestrator{
		recorder: recorder,
		tokenMgr: tokens.New(recorder),
		spec:     spec,
		edges:    *newEdgeMap(),
	}
}

// WithCheckpointing attaches the checkpoint write path. Without it, Run
// never creates a Checkpoint row — equivalent to checkpoint.Config{Enabled:
// false}.
func (o *Orchestrator) WithCheckpointing(mgr *checkpoint.Manager) *Orchestrator {
	o.checkpoints = mgr
	return o
}

// Run executes the full run lifecycle (spec §4.11) and returns the
// finalized Run.
func (o *Orchestrator) Run(ctx context.Context) (*contracts.Run, error) {
	run, err := o.recorder.BeginRun(ctx, o.spec.Settings, o.spec.CanonicalVersion)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: begin run: %w", err)
	}

	sourceNode, err := o.registerGraph(ctx, run.RunID)
	if err != nil {
		return nil, err
	}

	rowCh, errCh := o.spec.Source.Load(ctx)
	rowIndex := 0
	sourceFailed := false
readLoop:
	for rowCh != nil || errCh != nil {
		select {
		case row, ok := <-rowCh:
			if !ok {
				rowCh = nil
				continue
			}
			tok, err := o.tokenMgr.NewRow(ctx, run.RunID, sourceNode.NodeID, rowIndex, row)
			if err != nil {
				o.failures++
				slog.Error("failed to create row", "error", err)
				rowIndex++
				continue
			}
			o.dispatch(ctx, o.mainProcessor, o.mainSinkName, tok)
			o.checkpointRow(ctx, run.RunID, tok, sourceNode.NodeID, int64(rowIndex))
			rowIndex++
		case srcErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if srcErr != nil {
				slog.Error("source reported a fatal error", "error", srcErr)
				sourceFailed = true
				break readLoop
			}
		case <-ctx.Done():
			sourceFailed = true
			break readLoop
		}
	}

	if o.aggExecutor != nil && !sourceFailed {
		if err := o.flushAggregation(ctx, run.RunID, rowIndex); err != nil {
			o.failures++
			slog.Error("aggregation flush failed", "error", err)
		}
	}

	if err := o.writeSinks(ctx); err != nil {
		o.failures++
		slog.Error("sink write failed", "error", err)
	}

	_ = o.spec.Source.Close()
	for _, s := range o.sinks {
		_ = s.plugin.Close()
	}

	status := contracts.RunStatusCompleted
	if sourceFailed {
		status = contracts.RunStatusFailed
	}
	if err := o.recorder.FinalizeRun(ctx, run.RunID, status); err != nil {
		return nil, fmt.Errorf("orchestrator: finalize run: %w", err)
	}
	run.Status = status

	if status == contracts.RunStatusCompleted && o.checkpoints != nil {
		if err := o.checkpoints.Finalize(ctx, run.RunID); err != nil {
			slog.Error("failed to delete checkpoints after successful run", "run_id", run.RunID, "error", err)
		}
	}
	return run, nil
}

// checkpointRow applies the write-path policy (spec §4.13 maybe_checkpoint)
// at row granularity: tok's position after a full dispatch is the
// checkpoint boundary, not any single node within it. A no-op when
// checkpointing was never attached via WithCheckpointing.
func (o *Orchestrator) checkpointRow(ctx context.Context, runID string, tok contracts.TokenInfo, anchorNodeID string, sequenceNumber int64) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.MaybeCheckpoint(ctx, runID, tok.TokenID, anchorNodeID, sequenceNumber, o.spec.Settings); err != nil {
		slog.Error("checkpoint write failed", "run_id", runID, "token_id", tok.TokenID, "error", err)
	}
}

// Failures counts what the run loop logged as failed: rows whose token
// could not be created or that ended RowOutcomeFailed (a gate's
// MissingEdgeError included), completed rows with no terminal sink, fork
// children with no registered branch, tokens routed to an unregistered
// sink, and a failed aggregation flush or sink write (each counted once).
func (o *Orchestrator) Failures() int { return o.failures }

// registerGraph registers (or, while resuming, rehydrates) the source node
// and the full step/sink/branch/aggregation graph, and builds the runtime
// state (o.branches, o.sinks, o.mainProcessor, o.mainSinkName, o.aggExecutor)
// that Run's row loop dispatches against.
func (o *Orchestrator) registerGraph(ctx context.Context, runID string) (*contracts.Node, error) {
	sourceNode, err := o.getOrRegisterNode(ctx, runID, o.spec.Source.Name(), contracts.NodeTypeSource,
		o.spec.Source.PluginVersion(), o.spec.Source.Determinism(), nil, "", seqPtr(0))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: register source node: %w", err)
	}

	sinks, err := o.registerSinks(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: register sinks: %w", err)
	}

	branches, err := o.registerBranches(ctx, runID, sinks)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: register branches: %w", err)
	}
	o.branches = branches

	mainSteps, err := o.registerSteps(ctx, runID, o.spec.MainSteps, sinks, branches)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: register main steps: %w", err)
	}

	mainSinkName := o.spec.MainSinkName
	if o.spec.MainAggregation != nil {
		agg := o.spec.MainAggregation
		aggNode, err := o.getOrRegisterNode(ctx, runID, agg.Plugin.Name(), contracts.NodeTypeAggregation,
			agg.Plugin.PluginVersion(), agg.Plugin.Determinism(), nil, schemaHashOf(agg.Plugin.InputSchema()), seqPtr(len(mainSteps)+1))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: register aggregation node: %w", err)
		}
		aggExecutor := executors.NewAggregationExecutor(o.recorder, runID, aggNode.NodeID, agg.Plugin)
		mainSteps = append(mainSteps, rowprocessor.Step{NodeID: aggNode.NodeID, Kind: plugin.KindAggregation, Aggregation: aggExecutor})
		o.aggExecutor = aggExecutor
		o.aggNodeID = aggNode.NodeID
		o.aggFlushSink = agg.FlushSinkName
		mainSinkName = ""
	}
	o.mainProcessor = rowprocessor.New(mainSteps)
	o.mainSinkName = mainSinkName
	o.sinks = sinks
	return sourceNode, nil
}

// getOrRegisterNode registers a new Node, unless resuming — in which case
// it looks the node up in o.existingNodes instead, refusing if the
// graph described by spec no longer matches the one on record (a changed
// plugin/sequence since the crash is exactly the drift VerifyConfigUnchanged
// guards against at a coarser grain; this catches graph-shape drift).
func (o *Orchestrator) getOrRegisterNode(ctx context.Context, runID, pluginName string, nodeType contracts.NodeType, pluginVersion string, determinism contracts.Determinism, config map[string]any, schemaHash string, sequence *int) (*contracts.Node, error) {
	if o.existingNodes == nil {
		return o.recorder.RegisterNode(ctx, runID, pluginName, nodeType, pluginVersion, determinism, config, schemaHash, sequence)
	}
	seq := -1
	if sequence != nil {
		seq = *sequence
	}
	key := nodeKey{nodeType: nodeType, pluginName: pluginName, sequence: seq}
	node, ok := o.existingNodes[key]
	if !ok {
		return nil, fmt.Errorf("orchestrator: resume: no registered %s node %q at sequence %d; the pipeline graph changed since this run's checkpoint was written", nodeType, pluginName, seq)
	}
	return &node, nil
}

// getOrRegisterEdge mirrors getOrRegisterNode for edges.
func (o *Orchestrator) getOrRegisterEdge(ctx context.Context, runID, fromNode, toNode, label string, mode contracts.RoutingMode) (string, error) {
	if o.existingEdges == nil {
		edge, err := o.recorder.RegisterEdge(ctx, runID, fromNode, toNode, label, mode)
		if err != nil {
			return "", err
		}
		return edge.EdgeID, nil
	}
	id, ok := o.existingEdges[fromNode+"\x00"+label]
	if !ok {
		return "", fmt.Errorf("orchestrator: resume: no registered edge for node %s label %q; the pipeline graph changed since this run's checkpoint was written", fromNode, label)
	}
	return id, nil
}

// Resume continues runID from its last checkpoint (spec §4.13 read path).
// unprocessedRowIDs must be the UnprocessedRowIDs of the ResumePoint that
// checkpoint.RecoveryManager.GetResumePoint returned for this same runID,
// with that point already validated against the current resolved configuration
// via VerifyConfigUnchanged — Resume itself does not re-check that, so
// callers must not skip it. Every node the main sequence, branches, and
// sinks declare must already be registered under runID from the original
// attempt; Resume never creates new nodes or edges, only new rows/tokens/
// node_states for the rows it replays.
//
// Unprocessed rows replay under their existing row_id with a fresh token_id
// (see tokens.Manager.ResumeRow) rather than continuing the original
// token's attempt sequence — a deliberate, documented simplification of
// spec §9's acknowledged-incomplete resume design: every node the replay
// touches still gets its own new attempt row, just under a new token
// rather than the original one.
func (o *Orchestrator) Resume(ctx context.Context, runID string, unprocessedRowIDs []string) (*contracts.Run, error) {
	nodes, err := o.recorder.NodesForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resume: load nodes: %w", err)
	}
	o.existingNodes = make(map[nodeKey]contracts.Node, len(nodes))
	for _, n := range nodes {
		seq := -1
		if n.SequenceInPipeline != nil {
			seq = *n.SequenceInPipeline
		}
		o.existingNodes[nodeKey{nodeType: n.NodeType, pluginName: n.PluginName, sequence: seq}] = n
	}

	edges, err := o.recorder.EdgesForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resume: load edges: %w", err)
	}
	o.existingEdges = make(map[string]string, len(edges))
	for _, e := range edges {
		o.existingEdges[e.FromNodeID+"\x00"+e.Label] = e.EdgeID
	}

	sourceNode, err := o.registerGraph(ctx, runID)
	if err != nil {
		return nil, err
	}

	allRows, err := o.recorder.RowsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resume: load rows: %w", err)
	}
	unprocessed := make(map[string]bool, len(unprocessedRowIDs))
	for _, id := range unprocessedRowIDs {
		unprocessed[id] = true
	}

	maxRowIndex := -1
	existingByIndex := make(map[int]contracts.Row, len(allRows))
	for _, row := range allRows {
		existingByIndex[row.RowIndex] = row
		if row.RowIndex > maxRowIndex {
			maxRowIndex = row.RowIndex
		}
	}

	rowCh, errCh := o.spec.Source.Load(ctx)
	rowIndex := 0
	sourceFailed := false
readLoop:
	for rowCh != nil || errCh != nil {
		select {
		case row, ok := <-rowCh:
			if !ok {
				rowCh = nil
				continue
			}
			existing, wasCreated := existingByIndex[rowIndex]
			if wasCreated && !unprocessed[existing.RowID] {
				// already completed in a prior attempt; do not replay.
				rowIndex++
				continue
			}
			reuseRowID := ""
			if wasCreated {
				reuseRowID = existing.RowID
			}
			tok, err := o.tokenMgr.ResumeRow(ctx, runID, sourceNode.NodeID, rowIndex, reuseRowID, row)
			if err != nil {
				o.failures++
				slog.Error("failed to create row during resume", "error", err)
				rowIndex++
				continue
			}
			o.dispatch(ctx, o.mainProcessor, o.mainSinkName, tok)
			o.checkpointRow(ctx, runID, tok, sourceNode.NodeID, int64(rowIndex))
			rowIndex++
		case srcErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if srcErr != nil {
				slog.Error("source reported a fatal error during resume", "error", srcErr)
				sourceFailed = true
				break readLoop
			}
		case <-ctx.Done():
			sourceFailed = true
			break readLoop
		}
	}
	if rowIndex <= maxRowIndex {
		// the resumed source yielded fewer rows than the original run
		// had already created — it is not the same, replayable source.
		return nil, fmt.Errorf("orchestrator: resume: source yielded only %d rows, but row index %d was already recorded for this run", rowIndex, maxRowIndex)
	}

	if o.aggExecutor != nil && !sourceFailed {
		if err := o.flushAggregation(ctx, runID, rowIndex); err != nil {
			o.failures++
			slog.Error("aggregation flush failed", "error", err)
		}
	}

	if err := o.writeSinks(ctx); err != nil {
		o.failures++
		slog.Error("sink write failed", "error", err)
	}

	_ = o.spec.Source.Close()
	for _, s := range o.sinks {
		_ = s.plugin.Close()
	}

	status := contracts.RunStatusCompleted
	if sourceFailed {
		status = contracts.RunStatusFailed
	}
	if err := o.recorder.FinalizeRun(ctx, runID, status); err != nil {
		return nil, fmt.Errorf("orchestrator: resume: finalize run: %w", err)
	}
	if status == contracts.RunStatusCompleted && o.checkpoints != nil {
		if err := o.checkpoints.Finalize(ctx, runID); err != nil {
			slog.Error("failed to delete checkpoints after successful resume", "run_id", runID, "error", err)
		}
	}
	return &contracts.Run{RunID: runID, Status: status}, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, proc *rowprocessor.Processor, terminalSink string, tok contracts.TokenInfo) {
	result := proc.ProcessRow(ctx, tok)
	switch result.Outcome {
	case contracts.RowOutcomeCompleted:
		if terminalSink == "" {
			o.failures++
			slog.Error("row completed with no terminal sink configured", "row_id", tok.RowID)
			return
		}
		o.bufferSink(terminalSink, result.UpdatedToken)
	case contracts.RowOutcomeRouted:
		o.bufferSink(result.SinkName, result.UpdatedToken)
	case contracts.RowOutcomeConsumed:
		// already recorded into an open batch by AggregationExecutor.
	case contracts.RowOutcomeForked:
		for _, child := range result.ChildTokens {
			branch, ok := o.branches[child.BranchName]
			if !ok {
				o.failures++
				slog.Error("fork target has no registered branch", "branch", child.BranchName, "row_id", tok.RowID)
				continue
			}
			o.dispatch(ctx, branch.processor, branch.sinkName, child)
		}
	case contracts.RowOutcomeFailed:
		o.failures++
		slog.Warn("row failed", "row_id", tok.RowID, "token_id", tok.TokenID, "error", result.Err)
	}
}

func (o *Orchestrator) bufferSink(name string, tok contracts.TokenInfo) {
	s, ok := o.sinks[name]
	if !ok {
		o.failures++
		slog.Error("routed to unregistered sink", "sink", name)
		return
	}
	s.buffered = append(s.buffered, tok)
	o.sinks[name] = s
}

func (o *Orchestrator) flushAggregation(ctx context.Context, runID string, rowIndex int) error {
	outputs, err := o.aggExecutor.Flush(ctx, "end_of_run")
	if err != nil {
		return err
	}
	for _, row := range outputs {
		tok, err := o.tokenMgr.NewRow(ctx, runID, o.aggNodeID, rowIndex, row)
		if err != nil {
			return err
		}
		o.bufferSink(o.aggFlushSink, tok)
		if o.checkpoints != nil {
			aggState := map[string]any{"flushed_rows": len(outputs)}
			if err := o.checkpoints.CheckpointAggregationFlush(ctx, runID, tok.TokenID, o.aggNodeID, int64(rowIndex), aggState, o.spec.Settings); err != nil {
				slog.Error("aggregation flush checkpoint failed", "run_id", runID, "error", err)
			}
		}
		rowIndex++
	}
	return nil
}

func (o *Orchestrator) writeSinks(ctx context.Context) error {
	var firstErr error
	for name, s := range o.sinks {
		if len(s.buffered) == 0 {
			continue
		}
		if _, err := s.executor.Write(ctx, s.buffered, s.stepIndex); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink %q: %w", name, err)
		}
	}
	return firstErr
}

func (o *Orchestrator) registerSinks(ctx context.Context, runID string) (map[string]sinkRuntime, error) {
	out := make(map[string]sinkRuntime, len(o.spec.Sinks))
	for i, s := range o.spec.Sinks {
		node, err := o.getOrRegisterNode(ctx, runID, s.Plugin.Name(), contracts.NodeTypeSink,
			s.Plugin.PluginVersion(), s.Plugin.Determinism(), nil, schemaHashOf(s.Plugin.InputSchema()), seqPtr(i))
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", s.Name, err)
		}
		out[s.Name] = sinkRuntime{
			nodeID:    node.NodeID,
			executor:  executors.NewSinkExecutor(o.recorder, runID, node.NodeID, s.ArtifactType, s.Plugin),
			plugin:    s.Plugin,
			stepIndex: i + 1,
		}
	}
	return out, nil
}

func (o *Orchestrator) registerBranches(ctx context.Context, runID string, sinks map[string]sinkRuntime) (map[string]branchRuntime, error) {
	out := make(map[string]branchRuntime, len(o.spec.Branches))
	for _, b := range o.spec.Branches {
		if _, ok := sinks[b.SinkName]; !ok {
			return nil, fmt.Errorf("branch %q: unknown sink %q", b.Name, b.SinkName)
		}
		steps, err := o.registerSteps(ctx, runID, b.Steps, sinks, nil)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %w", b.Name, err)
		}
		out[b.Name] = branchRuntime{processor: rowprocessor.New(steps), sinkName: b.SinkName}
	}
	return out, nil
}

// registerSteps registers every transform/gate node in order and wires
// each gate's routing labels to the edge_map (spec §4.11 "construct
// edge_map"). branches is nil when registering a branch's own steps — a
// branch's gates may only route to sinks, not to other branches, to keep
// the graph acyclic by construction.
func (o *Orchestrator) registerSteps(ctx context.Context, runID string, specs []NodeSpec, sinks map[string]sinkRuntime, branches map[string]branchRuntime) ([]rowprocessor.Step, error) {
	out := make([]rowprocessor.Step, 0, len(specs))
	for i, spec := range specs {
		switch spec.Kind {
		case plugin.KindTransform:
			node, err := o.getOrRegisterNode(ctx, runID, spec.Transform.Name(), contracts.NodeTypeTransform,
				spec.Transform.PluginVersion(), spec.Transform.Determinism(), nil, schemaHashOf(spec.Transform.InputSchema()), seqPtr(i))
			if err != nil {
				return nil, fmt.Errorf("transform %q: %w", spec.Transform.Name(), err)
			}
			exec := executors.NewTransformExecutor(o.recorder, node.NodeID, spec.Transform)
			out = append(out, rowprocessor.Step{NodeID: node.NodeID, Kind: plugin.KindTransform, Transform: exec})

		case plugin.KindGate:
			node, err := o.getOrRegisterNode(ctx, runID, spec.Gate.Name(), contracts.NodeTypeGate,
				spec.Gate.PluginVersion(), spec.Gate.Determinism(), nil, schemaHashOf(spec.Gate.InputSchema()), seqPtr(i))
			if err != nil {
				return nil, fmt.Errorf("gate %q: %w", spec.Gate.Name(), err)
			}
			for _, label := range spec.GateRoutes {
				toNode, mode, err := o.resolveLabelTarget(label, sinks, branches)
				if err != nil {
					return nil, fmt.Errorf("gate %q: %w", spec.Gate.Name(), err)
				}
				edgeID, err := o.getOrRegisterEdge(ctx, runID, node.NodeID, toNode, label, mode)
				if err != nil {
					return nil, fmt.Errorf("gate %q: register edge %q: %w", spec.Gate.Name(), label, err)
				}
				o.edges.register(node.NodeID, label, edgeID)
			}
			exec := executors.NewGateExecutor(o.recorder, &o.edges, o.tokenMgr, node.NodeID, spec.Gate)
			out = append(out, rowprocessor.Step{NodeID: node.NodeID, Kind: plugin.KindGate, Gate: exec})

		default:
			return nil, fmt.Errorf("step %d: unsupported kind %q in a linear step sequence", i, spec.Kind)
		}
	}
	return out, nil
}

func (o *Orchestrator) resolveLabelTarget(label string, sinks map[string]sinkRuntime, branches map[string]branchRuntime) (nodeID string, mode contracts.RoutingMode, err error) {
	if branches != nil {
		if b, ok := branches[label]; ok {
			if s, ok := sinks[b.sinkName]; ok {
				return s.nodeID, contracts.RoutingModeCopy, nil
			}
		}
	}
	if s, ok := sinks[label]; ok {
		return s.nodeID, contracts.RoutingModeMove, nil
	}
	return "", "", fmt.Errorf("label %q is neither a registered branch nor a registered sink", label)
}

func schemaHashOf(s contracts.Schema) string {
	hash, err := canonhash.Hash(s)
	if err != nil {
		return ""
	}
	return hash
}

func seqPtr(i int) *int { return &i }
