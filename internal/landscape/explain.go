package landscape

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// ExplainRow assembles the full audit trail for one row: hashes, node-state
// history, routing events, and artifacts, with source data inlined when
// the blob is still resolvable (spec §4.3).
func (r *Recorder) ExplainRow(ctx context.Context, runID, rowID string) (*contracts.RowLineage, error) {
	var row contracts.Row
	var sourceRef *string
	err := r.pool.QueryRow(ctx, `
		SELECT row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at
		FROM rows_ WHERE run_id = $1 AND row_id = $2
	`, runID, rowID).Scan(&row.RowID, &row.RunID, &row.SourceNodeID, &row.RowIndex, &row.SourceDataHash, &sourceRef, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: explain row: read row: %w", err)
	}
	row.SourceDataRef = sourceRef

	tokenRows, err := r.pool.Query(ctx, `
		SELECT token_id, row_id, COALESCE(branch_name, ''), created_at FROM tokens WHERE row_id = $1
	`, rowID)
	if err != nil {
		return nil, fmt.Errorf("landscape: explain row: read tokens: %w", err)
	}
	var tokens []contracts.Token
	var tokenIDs []string
	for tokenRows.Next() {
		var t contracts.Token
		if err := tokenRows.Scan(&t.TokenID, &t.RowID, &t.BranchName, &t.CreatedAt); err != nil {
			tokenRows.Close()
			return nil, fmt.Errorf("landscape: explain row: scan token: %w", err)
		}
		tokens = append(tokens, t)
		tokenIDs = append(tokenIDs, t.TokenID)
	}
	tokenRows.Close()
	if err := tokenRows.Err(); err != nil {
		return nil, fmt.Errorf("landscape: explain row: %w", err)
	}

	var states []contracts.NodeState
	var stateIDs []string
	if len(tokenIDs) > 0 {
		stateRows, err := r.pool.Query(ctx, `
			SELECT state_id, token_id, node_id, attempt, step_index, status, input_hash, output_hash,
				input_ref, output_ref, duration_ms, error_json, started_at, completed_at
			FROM node_states WHERE token_id = ANY($1)
			ORDER BY step_index, attempt
		`, tokenIDs)
		if err != nil {
			return nil, fmt.Errorf("landscape: explain row: read node states: %w", err)
		}
		for stateRows.Next() {
			var s contracts.NodeState
			var errJSON []byte
			if err := stateRows.Scan(&s.StateID, &s.TokenID, &s.NodeID, &s.Attempt, &s.StepIndex, &s.Status,
				&s.InputHash, &s.OutputHash, &s.InputRef, &s.OutputRef, &s.DurationMS, &errJSON, &s.StartedAt, &s.CompletedAt); err != nil {
				stateRows.Close()
				return nil, fmt.Errorf("landscape: explain row: scan node state: %w", err)
			}
			s.ErrorJSON, err = unmarshalJSON(errJSON)
			if err != nil {
				stateRows.Close()
				return nil, fmt.Errorf("landscape: explain row: unmarshal error json: %w", err)
			}
			states = append(states, s)
			stateIDs = append(stateIDs, s.StateID)
		}
		stateRows.Close()
		if err := stateRows.Err(); err != nil {
			return nil, fmt.Errorf("landscape: explain row: %w", err)
		}
	}

	var routingEvents []contracts.RoutingEvent
	var artifacts []contracts.Artifact
	if len(stateIDs) > 0 {
		reRows, err := r.pool.Query(ctx, `
			SELECT event_id, state_id, edge_id, mode, reason_json, recorded_at
			FROM routing_events WHERE state_id = ANY($1)
		`, stateIDs)
		if err != nil {
			return nil, fmt.Errorf("landscape: explain row: read routing events: %w", err)
		}
		for reRows.Next() {
			var ev contracts.RoutingEvent
			var reasonJSON []byte
			if err := reRows.Scan(&ev.EventID, &ev.StateID, &ev.EdgeID, &ev.Mode, &reasonJSON, &ev.RecordedAt); err != nil {
				reRows.Close()
				return nil, fmt.Errorf("landscape: explain row: scan routing event: %w", err)
			}
			ev.ReasonJSON, err = unmarshalJSON(reasonJSON)
			if err != nil {
				reRows.Close()
				return nil, fmt.Errorf("landscape: explain row: unmarshal reason json: %w", err)
			}
			routingEvents = append(routingEvents, ev)
		}
		reRows.Close()
		if err := reRows.Err(); err != nil {
			return nil, fmt.Errorf("landscape: explain row: %w", err)
		}

		artRows, err := r.pool.Query(ctx, `
			SELECT artifact_id, run_id, sink_node_id, state_id, artifact_type, path_or_uri, content_hash, size_bytes, metadata_json, created_at
			FROM artifacts WHERE state_id = ANY($1)
		`, stateIDs)
		if err != nil {
			return nil, fmt.Errorf("landscape: explain row: read artifacts: %w", err)
		}
		for artRows.Next() {
			var a contracts.Artifact
			var metaJSON []byte
			if err := artRows.Scan(&a.ArtifactID, &a.RunID, &a.SinkNodeID, &a.StateID, &a.ArtifactType,
				&a.PathOrURI, &a.ContentHash, &a.SizeBytes, &metaJSON, &a.CreatedAt); err != nil {
				artRows.Close()
				return nil, fmt.Errorf("landscape: explain row: scan artifact: %w", err)
			}
			a.MetadataJSON, err = unmarshalJSON(metaJSON)
			if err != nil {
				artRows.Close()
				return nil, fmt.Errorf("landscape: explain row: unmarshal metadata json: %w", err)
			}
			artifacts = append(artifacts, a)
		}
		artRows.Close()
		if err := artRows.Err(); err != nil {
			return nil, fmt.Errorf("landscape: explain row: %w", err)
		}
	}

	lineage := &contracts.RowLineage{
		Row:           row,
		Tokens:        tokens,
		NodeStates:    states,
		RoutingEvents: routingEvents,
		Artifacts:     artifacts,
	}

	if sourceRef != nil {
		data, found, err := r.payloads.Retrieve(ctx, *sourceRef)
		if err != nil {
			return nil, fmt.Errorf("landscape: explain row: retrieve source payload: %w", err)
		}
		if found {
			decoded, err := unmarshalJSON(data)
			if err != nil {
				return nil, fmt.Errorf("landscape: explain row: decode source payload: %w", err)
			}
			lineage.SourceData = decoded
			lineage.PayloadAvailable = true
		}
	}

	return lineage, nil
}
