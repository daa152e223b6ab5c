package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingResource is returned when an entry has no resource type or id.
	ErrMissingResource = errors.New("audit entry requires a resource type and id")
	// ErrInvalidSnapshot is returned when value_before or value_after is not valid JSON.
	ErrInvalidSnapshot = errors.New("audit value snapshot is not valid JSON")
	// ErrInvalidFilter is returned for search filters outside the closed enumerations.
	ErrInvalidFilter = errors.New("invalid audit search filter")
	// ErrSinkClosed is returned by a batching sink after Close.
	ErrSinkClosed = errors.New("audit sink closed")
)

// InvalidActionError is returned when an entry names an action outside the
// closed enumeration. Nothing is written.
type InvalidActionError struct {
	Action string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid audit action %q", e.Action)
}

// MissingActorError is returned when an entry lacks the actor id or email.
type MissingActorError struct {
	Field string
}

func (e *MissingActorError) Error() string {
	return fmt.Sprintf("audit entry actor is missing %s", e.Field)
}

// WriteFailedError is returned by Log when an entry could not be persisted
// after all retries. The entry was handed to the fallback sink under EntryID.
type WriteFailedError struct {
	EntryID string
	Err     error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("audit entry %s not persisted: %v", e.EntryID, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }
