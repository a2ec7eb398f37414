package landscape

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// RowsForRun returns every Row registered for runID, ordered by row_index.
// The resume path (spec §4.13) joins this against UnprocessedRows to
// decide, for each row index the source yields again, whether to replay it
// under its existing row_id or create a fresh one.
func (r *Recorder) RowsForRun(ctx context.Context, runID string) ([]contracts.Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at
		FROM rows_ WHERE run_id = $1 ORDER BY row_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("landscape: rows for run: %w", err)
	}
	defer rows.Close()

	var out []contracts.Row
	for rows.Next() {
		var row contracts.Row
		if err := rows.Scan(&row.RowID, &row.RunID, &row.SourceNodeID, &row.RowIndex,
			&row.SourceDataHash, &row.SourceDataRef, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("landscape: rows for run: scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// NodesForRun returns every Node registered under runID. Resume rehydrates
// node_ids from this instead of re-registering the graph (spec §9
// "reconstruct_graph") — a run's nodes are immutable once written, so
// continuing the same run_id means finding the existing rows, not writing
// new ones.
func (r *Recorder) NodesForRun(ctx context.Context, runID string) ([]contracts.Node, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT node_id, run_id, plugin_name, plugin_version, node_type, determinism,
			config_hash, config_json, sequence_in_pipeline, schema_hash, registered_at
		FROM nodes WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("landscape: nodes for run: %w", err)
	}
	defer rows.Close()

	var out []contracts.Node
	for rows.Next() {
		var n contracts.Node
		var configJSON []byte
		var schemaHash *string
		if err := rows.Scan(&n.NodeID, &n.RunID, &n.PluginName, &n.PluginVersion, &n.NodeType, &n.Determinism,
			&n.ConfigHash, &configJSON, &n.SequenceInPipeline, &schemaHash, &n.RegisteredAt); err != nil {
			return nil, fmt.Errorf("landscape: nodes for run: scan: %w", err)
		}
		cfg, err := unmarshalJSON(configJSON)
		if err != nil {
			return nil, fmt.Errorf("landscape: nodes for run: unmarshal config: %w", err)
		}
		n.ConfigJSON = cfg
		if schemaHash != nil {
			n.SchemaHash = *schemaHash
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// EdgesForRun returns every Edge registered under runID, for the same
// rehydration purpose as NodesForRun.
func (r *Recorder) EdgesForRun(ctx context.Context, runID string) ([]contracts.EdgeInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT edge_id, run_id, from_node_id, to_node_id, label, default_mode, created_at
		FROM edges WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("landscape: edges for run: %w", err)
	}
	defer rows.Close()

	var out []contracts.EdgeInfo
	for rows.Next() {
		var e contracts.EdgeInfo
		if err := rows.Scan(&e.EdgeID, &e.RunID, &e.FromNodeID, &e.ToNodeID, &e.Label, &e.DefaultMode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("landscape: edges for run: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
