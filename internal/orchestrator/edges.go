package orchestrator

// edgeMap implements executors.EdgeResolver over the (from_node, label) ->
// edge_id table the Orchestrator builds once at registration (spec §4.11
// "construct edge_map"). It is never mutated once the run starts
// processing rows.
type edgeMap struct {
	byLabel map[string]string
}

func newEdgeMap() *edgeMap {
	return &edgeMap{byLabel: map[string]string{}}
}

func (m *edgeMap) register(nodeID, label, edgeID string) {
	m.byLabel[nodeID+"\x00"+label] = edgeID
}

// Resolve satisfies executors.EdgeResolver.
func (m *edgeMap) Resolve(nodeID, label string) (string, bool) {
	id, ok := m.byLabel[nodeID+"\x00"+label]
	return id, ok
}
