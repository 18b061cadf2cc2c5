package session

import (
	"context"
	"errors"
)

// SessionStore provides session persistence.
// This interface is defined in the domain to avoid circular imports.
// Implementations: Redis (prod), in-memory (test).
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if session doesn't exist or is expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Update saves changes to an existing session.
	Update(ctx context.Context, session *Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// MutateDrift performs an atomic read-modify-write on the session
	// identified by id, serialised per id so concurrent drift updates for
	// the same agent never interleave, while distinct agents proceed in
	// parallel (spec.md §4.5 concurrency invariant). fn mutates the
	// session in place; its return value, if non-nil, aborts the write.
	MutateDrift(ctx context.Context, id string, fn func(*Session) error) error
}

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")
