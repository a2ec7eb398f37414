package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers are expected to check with
// errors.Is, mirroring tarsy's pkg/config/errors.go idiom.
var (
	// ErrUnknownDeterminism indicates a node was registered without a valid
	// Determinism value (spec I9). There is no default.
	ErrUnknownDeterminism = errors.New("node registered without a valid determinism value")

	// ErrStateNotOpen indicates an attempt to update a node-state that has
	// already transitioned out of "open" (spec §4.3 "Once non-open, further
	// updates are forbidden").
	ErrStateNotOpen = errors.New("node state is not open")

	// ErrBatchNotDraft indicates an operation that requires a draft batch
	// (e.g. add_batch_member) was attempted on a non-draft batch (spec I7).
	ErrBatchNotDraft = errors.New("batch is not in draft status")

	// ErrInvalidBatchTransition indicates update_batch_status was asked to
	// perform a transition I7 forbids.
	ErrInvalidBatchTransition = errors.New("invalid batch status transition")

	// ErrRunNotResumable indicates can_resume / resume was invoked against a
	// run that is not eligible (completed, running, or has no checkpoints).
	ErrRunNotResumable = errors.New("run is not resumable")

	// ErrEdgeLabelConflict indicates register_edge was called twice for the
	// same (from_node, label) pair.
	ErrEdgeLabelConflict = errors.New("edge label already registered for this source node")

	// ErrPayloadNotFound names a hash the payload store does not have.
	// FSStore does not return it: Retrieve and Delete report a missing hash
	// as found/existed false with a nil error.
	ErrPayloadNotFound = errors.New("payload not found")
)

// MissingEdgeError is raised when a gate's routing decision refers to an
// edge that was never registered (spec I4). This is a hard, fatal error:
// the engine MUST NOT proceed past it.
type MissingEdgeError struct {
	NodeID string
	Label  string
}

func (e *MissingEdgeError) Error() string {
	return fmt.Sprintf("no registered edge from node %q with label %q", e.NodeID, e.Label)
}

// MaxRetriesExceeded is raised by the retry manager when every attempt of a
// retryable operation has failed (spec §4.9).
type MaxRetriesExceeded struct {
	Attempts  int
	LastError error
}

func (e *MaxRetriesExceeded) Error() string {
	return fmt.Sprintf("exhausted %d attempts, last error: %v", e.Attempts, e.LastError)
}

func (e *MaxRetriesExceeded) Unwrap() error {
	return e.LastError
}

// QuarantineFlagKey is the ErrorJSON key that marks a failed node-state as
// quarantined rather than plainly failed, per the I5 terminal-state table.
const QuarantineFlagKey = "quarantined"

// IsQuarantined reports whether an error payload carries the quarantine
// flag.
func IsQuarantined(errorJSON map[string]any) bool {
	if errorJSON == nil {
		return false
	}
	v, ok := errorJSON[QuarantineFlagKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
