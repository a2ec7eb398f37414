package telemetry

import "context"

// Exporter is the contract every telemetry sink implements (spec §4.15).
// Export is documented by the spec as "never raises — logs instead": in Go
// terms, an Exporter implementation is expected to handle its own
// recoverable failures internally and only return an error for conditions
// the TelemetryManager needs to count toward consecutive_total_failures —
// it must never panic.
type Exporter interface {
	// Name identifies the exporter for config reference (spec §4.15
	// "Exporter name is a required property").
	Name() string
	// Configure applies exporter-specific settings and fails fast on an
	// invalid configuration, before the manager ever calls Export.
	Configure(cfg map[string]any) error
	// Export delivers one event. Implementations must not block
	// indefinitely; a slow sink should apply its own internal timeout.
	Export(ctx context.Context, e Event) error
	// Flush blocks until any buffered events are delivered.
	Flush(ctx context.Context) error
	// Close releases the exporter's resources. Idempotent: calling Close
	// more than once must not error or panic.
	Close() error
}
