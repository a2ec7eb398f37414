// Package exporters holds the concrete Exporter implementations shipped
// with the engine (spec §4.15): a slog-backed exporter always available,
// and a websocket exporter for a live-tail dashboard connection.
package exporters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tachyon-beep/elspeth/internal/telemetry"
)

// LogExporter writes every event as a structured slog record. It never
// buffers and Flush/Close are no-ops, since slog's handler owns its own
// delivery guarantees.
type LogExporter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogExporter builds a LogExporter using slog.Default() until
// Configure overrides the level.
func NewLogExporter() *LogExporter {
	return &LogExporter{logger: slog.Default(), level: slog.LevelInfo}
}

func (e *LogExporter) Name() string { return "log" }

// Configure accepts an optional "level" key ("debug", "info", "warn",
// "error"); an unrecognized value fails fast.
func (e *LogExporter) Configure(cfg map[string]any) error {
	raw, ok := cfg["level"]
	if !ok {
		return nil
	}
	levelStr, ok := raw.(string)
	if !ok {
		return fmt.Errorf("logexporter: level must be a string, got %T", raw)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return fmt.Errorf("logexporter: invalid level %q: %w", levelStr, err)
	}
	e.level = level
	return nil
}

func (e *LogExporter) Export(ctx context.Context, ev telemetry.Event) error {
	e.logger.Log(ctx, e.level, "telemetry event",
		"type", ev.Type, "run_id", ev.RunID, "timestamp", ev.Timestamp, "fields", ev.Fields)
	return nil
}

func (e *LogExporter) Flush(ctx context.Context) error { return nil }

func (e *LogExporter) Close() error { return nil }
