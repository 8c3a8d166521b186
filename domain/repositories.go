package domain

import (
	"context"
	"time"
)

// SessionRepository is the persistence backend of the session store.
// Implementations return ErrSessionNotFound, ErrSessionExists,
// ErrReservationConflict and ErrConcurrentUpdate unwrapped; anything else is
// a backend failure.
type SessionRepository interface {
	// InsertSession stores a new session. The ID must not exist yet.
	InsertSession(ctx context.Context, session *Session) error
	// GetSession returns a copy of the stored session.
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession atomically loads the session, calls mutate on a copy and
	// stores the result. An error from mutate aborts without writing.
	UpdateSession(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)
	// FindSessions returns all sessions matching the filter.
	FindSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, id string) error
	// DeleteStaleSessions removes non-reserved sessions last accessed before
	// the given time and returns how many were removed.
	DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error)
}

// UserDirectory resolves external identities to registered local users.
type UserDirectory interface {
	FindByExternalID(ctx context.Context, provider, externalID string) (*LocalUser, error)
	FindByDN(ctx context.Context, dn string) (*LocalUser, error)
	FindByName(ctx context.Context, name string) (*LocalUser, error)
	// MergeUser applies changes to the named user. Directories that cannot
	// be written return ErrDirectoryReadOnly.
	MergeUser(ctx context.Context, name string, changes UserChanges) error
}
