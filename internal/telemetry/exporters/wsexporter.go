package exporters

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tachyon-beep/elspeth/internal/telemetry"
)

// wireEvent is the JSON shape broadcast to dashboard connections.
type wireEvent struct {
	Type      telemetry.EventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	RunID     string              `json:"run_id"`
	Fields    map[string]any      `json:"fields"`
}

// WSExporter fans telemetry events out to live-tail dashboard connections,
// grounded on tarsy's pkg/events.ConnectionManager/Broadcast: a registered
// set of connections guarded by a mutex, snapshotted before sends so a
// slow or stalled connection's write never holds the lock other
// connections (or Register/Unregister) are waiting on.
type WSExporter struct {
	mu           sync.RWMutex
	conns        map[string]*websocket.Conn
	writeTimeout time.Duration
}

// NewWSExporter builds a WSExporter with no connections registered yet;
// cmd/elspeth's serve command registers each accepted dashboard connection
// via Register as it is upgraded.
func NewWSExporter() *WSExporter {
	return &WSExporter{conns: make(map[string]*websocket.Conn), writeTimeout: 5 * time.Second}
}

func (e *WSExporter) Name() string { return "websocket" }

// Configure accepts an optional "write_timeout_seconds" override.
func (e *WSExporter) Configure(cfg map[string]any) error {
	if raw, ok := cfg["write_timeout_seconds"]; ok {
		if seconds, ok := raw.(float64); ok && seconds > 0 {
			e.writeTimeout = time.Duration(seconds) * time.Second
		}
	}
	return nil
}

// Register adds a live connection under id. Called by the serve command's
// upgrade handler.
func (e *WSExporter) Register(id string, conn *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[id] = conn
}

// Unregister removes a connection, e.g. once its read loop exits.
func (e *WSExporter) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, id)
}

// Export broadcasts ev to every registered connection. A per-connection
// write failure closes and unregisters that connection and is logged, but
// never fails the call overall — a dashboard exporter with zero or
// degraded viewers is not a telemetry pipeline failure (spec §4.15 "export
// never raises").
func (e *WSExporter) Export(ctx context.Context, ev telemetry.Event) error {
	data, err := json.Marshal(wireEvent{Type: ev.Type, Timestamp: ev.Timestamp, RunID: ev.RunID, Fields: ev.Fields})
	if err != nil {
		return err
	}

	e.mu.RLock()
	ids := make([]string, 0, len(e.conns))
	conns := make([]*websocket.Conn, 0, len(e.conns))
	for id, conn := range e.conns {
		ids = append(ids, id)
		conns = append(conns, conn)
	}
	e.mu.RUnlock()

	for i, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Warn("telemetry: dashboard connection write failed, dropping it", "connection_id", ids[i], "error", err)
			e.Unregister(ids[i])
		}
	}
	return nil
}

func (e *WSExporter) Flush(ctx context.Context) error { return nil }

// Close closes every registered connection. Idempotent: a second call
// finds an empty connection map and does nothing.
func (e *WSExporter) Close() error {
	e.mu.Lock()
	conns := e.conns
	e.conns = make(map[string]*websocket.Conn)
	e.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Close(websocket.StatusNormalClosure, "telemetry exporter closing"); err != nil {
			slog.Warn("telemetry: error closing dashboard connection", "connection_id", id, "error", err)
		}
	}
	return nil
}
