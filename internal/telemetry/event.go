// Package telemetry implements the EventBus and TelemetryManager of spec
// §4.15: immutable events emitted after a successful Landscape write,
// filtered by granularity, and fanned out to pluggable Exporters.
package telemetry

import "time"

// Granularity selects which event types an exporter receives (spec §6
// telemetry.granularity).
type Granularity string

const (
	GranularityLifecycle Granularity = "lifecycle"
	GranularityRows      Granularity = "rows"
	GranularityFull      Granularity = "full"
)

// rank orders granularities from narrowest to widest so a subscriber asking
// for "rows" also receives "lifecycle" events, and "full" receives both.
func (g Granularity) rank() int {
	switch g {
	case GranularityLifecycle:
		return 0
	case GranularityRows:
		return 1
	case GranularityFull:
		return 2
	default:
		return -1
	}
}

// includes reports whether an event of eventGranularity should be
// delivered to a subscriber configured at g.
func (g Granularity) includes(eventGranularity Granularity) bool {
	return g.rank() >= 0 && eventGranularity.rank() >= 0 && eventGranularity.rank() <= g.rank()
}

// EventType names one of the fixed telemetry event types (spec §6).
type EventType string

const (
	EventRunStarted            EventType = "RunStarted"
	EventRunCompleted          EventType = "RunCompleted"
	EventPhaseChanged          EventType = "PhaseChanged"
	EventRowCreated            EventType = "RowCreated"
	EventTransformCompleted    EventType = "TransformCompleted"
	EventGateEvaluated         EventType = "GateEvaluated"
	EventTokenCompleted        EventType = "TokenCompleted"
	EventExternalCallCompleted EventType = "ExternalCallCompleted"
)

// granularity is the fixed classification of each event type (spec §6:
// "RunStarted, RunCompleted, PhaseChanged (lifecycle). RowCreated,
// TransformCompleted, GateEvaluated, TokenCompleted (rows).
// ExternalCallCompleted (full)").
func (t EventType) granularity() Granularity {
	switch t {
	case EventRunStarted, EventRunCompleted, EventPhaseChanged:
		return GranularityLifecycle
	case EventRowCreated, EventTransformCompleted, EventGateEvaluated, EventTokenCompleted:
		return GranularityRows
	case EventExternalCallCompleted:
		return GranularityFull
	default:
		return GranularityFull
	}
}

// Event is one immutable telemetry value (spec §4.15). Fields is the
// type-specific payload; Type, Timestamp, and RunID are common to every
// event as the spec requires.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	Fields    map[string]any
}

// Granularity returns the fixed granularity class of e's type.
func (e Event) Granularity() Granularity { return e.Type.granularity() }

// NewEvent builds an Event stamped with the current time. Constructing it
// is the caller's job; emitting it after a successful Landscape write
// (spec I6) is the caller's responsibility too — this package does not
// enforce ordering, it only carries and dispatches the value.
func NewEvent(eventType EventType, runID string, fields map[string]any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), RunID: runID, Fields: fields}
}
