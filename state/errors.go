package state

import "fmt"

// ConflictError is an expected, never-retried-internally failure: an
// instance-id collision on insert, or a CAS mismatch on a state change
// (spec §7).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict: %s", e.Reason) }

// InvariantError is a fatal, logged-and-raised condition indicating a bug
// rather than a runtime condition (spec §7) — e.g. assignTask producing a
// non-SUCCESS transition, or a SAVE_STATE side effect for a task that
// vanished mid-transaction.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string { return fmt.Sprintf("invariant violation: %s", e.Reason) }
