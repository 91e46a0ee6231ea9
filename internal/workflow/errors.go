package workflow

import (
	"fmt"

	"civicplan/api/internal/store"
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// PermissionError reports that the actor's role lacks authority for the
// requested action. Never retried.
type PermissionError struct {
	Role   string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

// InvalidStateError reports a transition attempted from a status that does
// not permit it. The caller must re-read current state before deciding what
// applies now.
type InvalidStateError struct {
	Op     string
	Status store.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed from status %s", e.Op, e.Status)
}

// ConflictError reports that a concurrent writer won the conditional update
// between our read and our write. Resubmitting the same call blindly would
// apply it to the wrong state.
type ConflictError struct {
	Op string
}

func (e *ConflictError) Error() string {
	return e.Op + " lost to a concurrent update"
}

// StorageError wraps a transient store or blob failure. The caller decides
// whether to retry, queue, or alert.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
