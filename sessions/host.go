package sessions

import (
	"context"
	"errors"
)

var (
	// ErrInvalidIdentifier is returned for session identifiers that are empty
	// or contain characters outside 0x21-0x7E.
	ErrInvalidIdentifier = errors.New("sessions: invalid session identifier")
	// ErrInvalidTransition is returned when the target state is not directly
	// reachable from the session's current state.
	ErrInvalidTransition = errors.New("sessions: invalid state transition")
	// ErrSessionNotFound is returned by operations that require an existing
	// session, such as termination or update.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrSessionExists is returned by Host.CreateSession when the identifier
	// is already taken.
	ErrSessionExists = errors.New("sessions: session already exists")
	// ErrAllocation signals that no unique identifier could be allocated.
	// It indicates an environment failure and is not expected in practice.
	ErrAllocation = errors.New("sessions: identifier allocation failed")
	// ErrPrincipalMismatch is returned when binding a principal to a session
	// already owned by someone else.
	ErrPrincipalMismatch = errors.New("sessions: session owned by another principal")
)

// UpdateFunc mutates a session in place inside Host.UpdateSession. Returning
// an error aborts the update and leaves the stored session untouched.
type UpdateFunc func(s *Session) error

// Host is the persistence contract for sessions. Implementations MUST be
// safe for concurrent use.
type Host interface {
	// CreateSession stores a new session. It returns ErrSessionExists if the
	// identifier is already in use.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a copy of the stored session. A missing session is
	// reported as ok=false with a nil error.
	GetSession(ctx context.Context, id string) (s *Session, ok bool, err error)

	// UpdateSession applies fn to the current stored value and persists the
	// result as one atomic step per session, so concurrent updates observe
	// each other's writes. It returns ErrSessionNotFound if the session does
	// not exist and passes through any error returned by fn.
	UpdateSession(ctx context.Context, id string, fn UpdateFunc) (*Session, error)

	// DeleteSession removes the session permanently. It returns
	// ErrSessionNotFound if the session does not exist.
	DeleteSession(ctx context.Context, id string) error
}
