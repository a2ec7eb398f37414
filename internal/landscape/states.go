package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// BeginNodeState opens a new attempt for (token_id, node_id): attempt is
// max(attempt)+1, or 1 if none exist yet (spec I2). Input is canonically
// hashed and stored before the row is inserted so input_hash/input_ref are
// always populated together.
func (r *Recorder) BeginNodeState(ctx context.Context, tokenID, nodeID string, stepIndex int, inputData map[string]any) (*contracts.NodeState, error) {
	canonical, err := canonhash.Canonicalize(inputData)
	if err != nil {
		return nil, fmt.Errorf("landscape: canonicalize input: %w", err)
	}
	inputHash, err := canonhash.Hash(inputData)
	if err != nil {
		return nil, fmt.Errorf("landscape: hash input: %w", err)
	}
	inputRef, err := r.payloads.Store(ctx, []byte(canonical))
	if err != nil {
		return nil, fmt.Errorf("landscape: store input payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("landscape: begin node state: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var maxAttempt int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(attempt), 0) FROM node_states WHERE token_id = $1 AND node_id = $2
	`, tokenID, nodeID).Scan(&maxAttempt)
	if err != nil {
		return nil, fmt.Errorf("landscape: begin node state: read max attempt: %w", err)
	}

	now := time.Now().UTC()
	state := &contracts.NodeState{
		StateID:   newID(),
		TokenID:   tokenID,
		NodeID:    nodeID,
		Attempt:   maxAttempt + 1,
		StepIndex: stepIndex,
		Status:    contracts.NodeStateOpen,
		InputHash: inputHash,
		InputRef:  &inputRef,
		StartedAt: now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO node_states (state_id, token_id, node_id, attempt, step_index, status, input_hash, input_ref, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, state.StateID, state.TokenID, state.NodeID, state.Attempt, state.StepIndex, state.Status, state.InputHash, inputRef, state.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: begin node state: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("landscape: begin node state: commit: %w", err)
	}
	return state, nil
}

// CompleteNodeState transitions an open state to a terminal status,
// populating output_hash/output_ref/duration/error. Once a state is
// non-open, further updates are rejected with ErrStateNotOpen.
func (r *Recorder) CompleteNodeState(ctx context.Context, stateID string, status contracts.NodeStateStatus, outputData map[string]any, durationMS int64, errorReason *contracts.TransformErrorReason) error {
	var outputHashArg, outputRefArg any
	if outputData != nil {
		canonical, err := canonhash.Canonicalize(outputData)
		if err != nil {
			return fmt.Errorf("landscape: canonicalize output: %w", err)
		}
		outputHash, err := canonhash.Hash(outputData)
		if err != nil {
			return fmt.Errorf("landscape: hash output: %w", err)
		}
		ref, err := r.payloads.Store(ctx, []byte(canonical))
		if err != nil {
			return fmt.Errorf("landscape: store output payload: %w", err)
		}
		outputHashArg = outputHash
		outputRefArg = ref
	}

	var errorJSON map[string]any
	if errorReason != nil {
		if err := errorReason.Validate(); err != nil {
			return fmt.Errorf("landscape: complete node state: %w", err)
		}
		errorJSON = errorReason.AsMap()
	}
	errorArg, err := marshalJSON(errorJSON)
	if err != nil {
		return fmt.Errorf("landscape: marshal error json: %w", err)
	}
	var errorArgVal any
	if errorJSON != nil {
		errorArgVal = errorArg
	}

	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE node_states
		SET status = $1, output_hash = $2, output_ref = $3, duration_ms = $4, error_json = $5, completed_at = $6
		WHERE state_id = $7 AND status = $8
	`, status, outputHashArg, outputRefArg, durationMS, errorArgVal, now, stateID, contracts.NodeStateOpen)
	if err != nil {
		return fmt.Errorf("landscape: complete node state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contracts.ErrStateNotOpen
	}
	return nil
}

// RecordRoutingEvent writes a single routing decision (spec §4.3).
func (r *Recorder) RecordRoutingEvent(ctx context.Context, stateID, edgeID string, mode contracts.RoutingMode, reason map[string]any) (*contracts.RoutingEvent, error) {
	events, err := r.RecordRoutingEvents(ctx, stateID, []contracts.RoutingDestination{{EdgeID: edgeID, Mode: mode}}, reason)
	if err != nil {
		return nil, err
	}
	return &events[0], nil
}

// RecordRoutingEvents writes one RoutingEvent per destination atomically.
func (r *Recorder) RecordRoutingEvents(ctx context.Context, stateID string, routes []contracts.RoutingDestination, reason map[string]any) ([]contracts.RoutingEvent, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("landscape: record routing events: no destinations given")
	}
	reasonJSON, err := marshalJSON(reason)
	if err != nil {
		return nil, fmt.Errorf("landscape: marshal routing reason: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("landscape: record routing events: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	events := make([]contracts.RoutingEvent, 0, len(routes))
	batch := &pgx.Batch{}
	for _, dest := range routes {
		ev := contracts.RoutingEvent{
			EventID:    newID(),
			StateID:    stateID,
			EdgeID:     dest.EdgeID,
			Mode:       dest.Mode,
			ReasonJSON: reason,
			RecordedAt: now,
		}
		events = append(events, ev)
		batch.Queue(`
			INSERT INTO routing_events (event_id, state_id, edge_id, mode, reason_json, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ev.EventID, ev.StateID, ev.EdgeID, ev.Mode, reasonJSON, ev.RecordedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for range routes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("landscape: record routing events: insert: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("landscape: record routing events: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("landscape: record routing events: commit: %w", err)
	}
	return events, nil
}
