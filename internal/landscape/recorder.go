// Package landscape implements the authoritative audit writer (spec §4.3):
// the relational store of record for a run. Every operation here commits
// as its own transaction (or a single multi-statement transaction where
// more than one row must land atomically); there is no write path to the
// audit store outside this package.
package landscape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tachyon-beep/elspeth/internal/canonhash"
	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
)

// Recorder is the single writer of the Landscape for a process. It wraps a
// pgxpool.Pool rather than an ORM client: the teacher (tarsy) reaches the
// same pool through an Ent driver, but Ent's generated client cannot be
// regenerated here (see DESIGN.md), so Recorder issues hand-written SQL
// directly — the same pgx driver tarsy's Ent client sits on top of.
type Recorder struct {
	pool     *pgxpool.Pool
	payloads payloadstore.Store
}

// Open runs pending migrations and opens a pgxpool against cfg.
func Open(ctx context.Context, cfg Config, payloads payloadstore.Store) (*Recorder, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("landscape: parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("landscape: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("landscape: ping: %w", err)
	}

	return &Recorder{pool: pool, payloads: payloads}, nil
}

// NewFromPool wraps an already-open pool, for tests that manage the pool's
// lifecycle themselves (e.g. a testcontainers-backed suite).
func NewFromPool(pool *pgxpool.Pool, payloads payloadstore.Store) *Recorder {
	return &Recorder{pool: pool, payloads: payloads}
}

// Pool exposes the underlying pool for health checks (spec §6 informative
// CLI surface / operational endpoints).
func (r *Recorder) Pool() *pgxpool.Pool { return r.pool }

// Close releases the pool.
func (r *Recorder) Close() { r.pool.Close() }

func newID() string { return uuid.New().String() }

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// BeginRun creates a Run row with status=running (spec §4.3).
func (r *Recorder) BeginRun(ctx context.Context, settings map[string]any, canonicalVersion string) (*contracts.Run, error) {
	configHash, err := canonhash.Hash(settings)
	if err != nil {
		return nil, fmt.Errorf("landscape: hash settings: %w", err)
	}
	settingsJSON, err := marshalJSON(settings)
	if err != nil {
		return nil, fmt.Errorf("landscape: marshal settings: %w", err)
	}

	run := &contracts.Run{
		RunID:            newID(),
		StartedAt:        time.Now().UTC(),
		Status:           contracts.RunStatusRunning,
		ConfigHash:       configHash,
		SettingsJSON:     settings,
		CanonicalVersion: canonicalVersion,
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO runs (run_id, started_at, status, config_hash, settings_json, canonical_version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.RunID, run.StartedAt, run.Status, run.ConfigHash, settingsJSON, run.CanonicalVersion)
	if err != nil {
		return nil, fmt.Errorf("landscape: begin run: %w", err)
	}
	return run, nil
}

// RegisterNode creates a Node row. determinism is required; an invalid
// value is rejected before any write is attempted (spec I9).
func (r *Recorder) RegisterNode(
	ctx context.Context,
	runID, pluginName string,
	nodeType contracts.NodeType,
	pluginVersion string,
	determinism contracts.Determinism,
	config map[string]any,
	schemaHash string,
	sequence *int,
) (*contracts.Node, error) {
	if !determinism.Valid() {
		return nil, contracts.ErrUnknownDeterminism
	}
	if !nodeType.Valid() {
		return nil, fmt.Errorf("landscape: invalid node type %q", nodeType)
	}

	configHash, err := canonhash.Hash(config)
	if err != nil {
		return nil, fmt.Errorf("landscape: hash node config: %w", err)
	}
	configJSON, err := marshalJSON(config)
	if err != nil {
		return nil, fmt.Errorf("landscape: marshal node config: %w", err)
	}

	node := &contracts.Node{
		NodeID:             newID(),
		RunID:              runID,
		PluginName:         pluginName,
		PluginVersion:      pluginVersion,
		NodeType:           nodeType,
		Determinism:        determinism,
		ConfigHash:         configHash,
		ConfigJSON:         config,
		SequenceInPipeline: sequence,
		SchemaHash:         schemaHash,
		RegisteredAt:       time.Now().UTC(),
	}

	var schemaHashArg any
	if schemaHash != "" {
		schemaHashArg = schemaHash
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO nodes (node_id, run_id, plugin_name, plugin_version, node_type, determinism,
			config_hash, config_json, sequence_in_pipeline, schema_hash, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, node.NodeID, node.RunID, node.PluginName, node.PluginVersion, node.NodeType, node.Determinism,
		node.ConfigHash, configJSON, sequence, schemaHashArg, node.RegisteredAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: register node: %w", err)
	}
	return node, nil
}

// RegisterEdge creates an Edge row. Label uniqueness is (from_node, label).
func (r *Recorder) RegisterEdge(ctx context.Context, runID, fromNode, toNode, label string, mode contracts.RoutingMode) (*contracts.EdgeInfo, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("landscape: invalid routing mode %q", mode)
	}

	edge := &contracts.EdgeInfo{
		EdgeID:      newID(),
		RunID:       runID,
		FromNodeID:  fromNode,
		ToNodeID:    toNode,
		Label:       label,
		DefaultMode: mode,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO edges (edge_id, run_id, from_node_id, to_node_id, label, default_mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, edge.EdgeID, edge.RunID, edge.FromNodeID, edge.ToNodeID, edge.Label, edge.DefaultMode, edge.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, contracts.ErrEdgeLabelConflict
		}
		return nil, fmt.Errorf("landscape: register edge: %w", err)
	}
	return edge, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), matching tarsy's pattern of mapping driver errors to
// sentinel errors at the package boundary rather than leaking pgconn types.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
