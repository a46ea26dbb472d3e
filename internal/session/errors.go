package session

import "errors"

var (
	// ErrPreconditionNotMet matches every *PreconditionError.
	ErrPreconditionNotMet = errors.New("precondition not met")
	// ErrOperationInFlight is returned when the same operation is already running.
	ErrOperationInFlight = errors.New("operation already in progress")
	// ErrStaleResult is returned when a result arrives after the session it was
	// computed for was replaced or its inputs changed.
	ErrStaleResult = errors.New("result discarded: session changed while the request was running")
	// ErrSessionPersisted is returned by mutating calls on a saved session.
	ErrSessionPersisted = errors.New("session already saved; generate a new speech to start another")
)

// PreconditionError names the session field an operation needed.
type PreconditionError struct {
	Field string
}

func (e *PreconditionError) Error() string {
	return "precondition not met: " + e.Field + " is required"
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionNotMet
}

func precondition(field string) error {
	return &PreconditionError{Field: field}
}
