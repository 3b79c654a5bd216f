package tracker

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or is not in the requested state.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness rule would be violated.
	ErrDuplicate = errors.New("duplicate")
	// ErrTrashed is returned when the conflicting record sits in the trash.
	ErrTrashed = errors.New("in trash")
	// ErrForbidden is returned when a record belongs to another user.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput marks malformed user input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthenticated marks requests lacking a signed-in user or credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrQueueClosed is returned by a JobQueue after Close.
	ErrQueueClosed = errors.New("queue closed")
)
