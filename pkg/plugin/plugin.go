// Package plugin defines the contracts external collaborators implement:
// sources, transforms, gates, aggregations, and sinks (spec §6). The engine
// never probes a plugin's methods at runtime to decide dispatch — Kind is
// assigned once at registration and cached on the node (spec §9 "Dynamic
// dispatch on plugin kind").
package plugin

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/contracts"
)

// Kind tags which of the five plugin shapes a registered plugin implements.
// The orchestrator classifies a plugin exactly once, at registration, and
// every later dispatch (RowProcessor, executors) switches on this tag
// instead of probing for an Evaluate or Accept method.
type Kind string

const (
	KindSource      Kind = "source"
	KindTransform   Kind = "transform"
	KindGate        Kind = "gate"
	KindAggregation Kind = "aggregation"
	KindSink        Kind = "sink"
)

// Source yields row-maps from an external origin (CSV file, queue, API
// page, ...). Load returns an iterator-shaped channel of rows; the caller
// drains it to completion or cancels ctx. Close is always called, even on
// error or cancellation. Name/Determinism/PluginVersion are recorded on the
// source's Node row the same as every other plugin kind (spec §3.1) — a
// source is not exempt from declaring its determinism (spec I9).
type Source interface {
	Name() string
	Determinism() contracts.Determinism
	PluginVersion() string
	Load(ctx context.Context) (<-chan map[string]any, <-chan error)
	Close() error
}

// Transform maps one row to a TransformResult (spec §4.5, §6). Determinism
// and PluginVersion are declared once and read at registration; there is no
// default determinism (spec I9).
type Transform interface {
	Name() string
	Determinism() contracts.Determinism
	PluginVersion() string
	InputSchema() contracts.Schema
	OutputSchema() contracts.Schema
	Process(ctx context.Context, row map[string]any) (contracts.TransformResult, error)
	OnStart(ctx context.Context) error
	Close() error
}

// Gate evaluates a row and decides where it flows next (spec §4.6, §6).
type Gate interface {
	Name() string
	Determinism() contracts.Determinism
	PluginVersion() string
	InputSchema() contracts.Schema
	Evaluate(ctx context.Context, row map[string]any) (contracts.GateResult, error)
	OnStart(ctx context.Context) error
	Close() error
}

// Aggregation buffers tokens into a batch and flushes them together (spec
// §4.7, §6).
type Aggregation interface {
	Name() string
	Determinism() contracts.Determinism
	PluginVersion() string
	InputSchema() contracts.Schema
	Accept(ctx context.Context, row map[string]any) (contracts.AcceptResult, error)
	Flush(ctx context.Context) ([]map[string]any, error)
	OnStart(ctx context.Context) error
	Close() error
}

// Sink writes a batch of rows to an external destination and reports the
// content hash and size of what it wrote (spec §4.8, §6). ContentHash and
// SizeBytes in the returned SinkWriteResult are REQUIRED (spec I8) — the
// executor will refuse to register an artifact without them.
type Sink interface {
	Name() string
	Determinism() contracts.Determinism
	PluginVersion() string
	InputSchema() contracts.Schema
	Write(ctx context.Context, rows []map[string]any) (contracts.SinkWriteResult, error)
	Close() error
}
