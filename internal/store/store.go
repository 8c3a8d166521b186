// Package store implements the session store semantics on top of a pluggable
// domain.SessionRepository backend.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"slices"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// SessionIDLength is the number of characters of a generated session ID.
	SessionIDLength = 30
	// MaxIDAttempts bounds the collision retries of CreateSession.
	MaxIDAttempts = 100

	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// IDGenerator produces candidate session identifiers.
type IDGenerator func() (string, error)

// Store is the single entry point for session mutations.
type Store struct {
	repo  domain.SessionRepository
	now   Clock
	newID IDGenerator
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store clock.
func WithClock(c Clock) Option {
	return func(s *Store) { s.now = c }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.newID = g }
}

// New wraps a repository backend.
func New(repo domain.SessionRepository, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: GenerateSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now exposes the store clock so callers compare against the same time base.
func (s *Store) Now() time.Time { return s.now() }

// GenerateSessionID returns SessionIDLength random alphanumerics.
func GenerateSessionID() (string, error) {
	max := big.NewInt(int64(len(idAlphabet)))
	buf := make([]byte, SessionIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CreateSession creates a prepared session. With an empty sessionID a fresh
// identifier is generated, retrying on collisions up to MaxIDAttempts.
func (s *Store) CreateSession(ctx context.Context, provider, sessionID string) (string, error) {
	return s.createSession(ctx, &domain.Session{Provider: provider, ID: sessionID})
}

// CreateChildSession creates a prepared session linked to parentID.
func (s *Store) CreateChildSession(ctx context.Context, provider, parentID string) (string, error) {
	return s.createSession(ctx, &domain.Session{Provider: provider, ParentSessionID: parentID})
}

func (s *Store) createSession(ctx context.Context, tmpl *domain.Session) (string, error) {
	now := s.now()
	tmpl.Status = domain.StatusPrepared
	tmpl.Tokens.TokenType = domain.DefaultTokenType
	tmpl.CreatedAt = now
	tmpl.LastAccess = now

	if tmpl.ID != "" {
		if err := s.repo.InsertSession(ctx, tmpl); err != nil {
			return "", wrap("create", err)
		}
		metrics.SessionsCreatedTotal.Inc()
		return tmpl.ID, nil
	}

	for attempt := 0; attempt < MaxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", &domain.StoreError{Op: "generate id", Err: err}
		}
		tmpl.ID = id
		err = s.repo.InsertSession(ctx, tmpl)
		if err == nil {
			metrics.SessionsCreatedTotal.Inc()
			return id, nil
		}
		if !errors.Is(err, domain.ErrSessionExists) {
			return "", wrap("create", err)
		}
		log.Warn().Int("attempt", attempt+1).Msg("Session ID collision, generating a new one")
	}
	return "", domain.ErrExhaustedIDSpace
}

// UpdateSession applies a partial update. The status edge is validated, the
// token expiry converted to absolute time and LastAccess stamped.
func (s *Store) UpdateSession(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	updated, err := s.repo.UpdateSession(ctx, id, func(sess *domain.Session) error {
		if upd.Status != nil {
			if upd.Status.IsFlowAnswer() || !sess.Status.CanTransitionTo(*upd.Status) {
				return ErrTransition(sess.Status, *upd.Status)
			}
		}
		upd.Apply(sess, s.now())
		return nil
	})
	if err != nil {
		return nil, wrap("update", err)
	}
	return updated, nil
}

// TransitionStatus moves the session to `to` only when its current status is
// one of `from`. It fails with a *domain.StatusConflictError otherwise.
func (s *Store) TransitionStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (*domain.Session, error) {
	cas := func(sess *domain.Session) error {
		if !slices.Contains(from, sess.Status) {
			return &domain.StatusConflictError{SessionID: id, Observed: sess.Status}
		}
		if !sess.Status.CanTransitionTo(to) {
			return ErrTransition(sess.Status, to)
		}
		sess.Status = to
		sess.LastAccess = s.now()
		return nil
	}

	updated, err := s.repo.UpdateSession(ctx, id, cas)
	if errors.Is(err, domain.ErrConcurrentUpdate) {
		// A lost optimistic race carries no status; settle it on the current record.
		updated, err = s.settleRace(ctx, id, from, cas)
	}
	if err != nil {
		return nil, wrap("transition", err)
	}
	return updated, nil
}

func (s *Store) settleRace(ctx context.Context, id string, from []domain.SessionStatus, cas func(*domain.Session) error) (*domain.Session, error) {
	current, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, current.Status) {
		return nil, &domain.StatusConflictError{SessionID: id, Observed: current.Status}
	}
	updated, err := s.repo.UpdateSession(ctx, id, cas)
	if errors.Is(err, domain.ErrConcurrentUpdate) {
		return nil, &domain.StatusConflictError{SessionID: id, Observed: current.Status}
	}
	return updated, err
}

// GetSession returns the full session.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, wrap("get", err)
	}
	return sess, nil
}

// GetFields returns the session projected onto the named fields.
func (s *Store) GetFields(ctx context.Context, id string, fields ...string) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Project(fields...)
}

// FindSessions returns the sessions matching filter.
func (s *Store) FindSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	sessions, err := s.repo.FindSessions(ctx, filter)
	if err != nil {
		return nil, wrap("find", err)
	}
	return sessions, nil
}

// ListSessions returns every stored session.
func (s *Store) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.FindSessions(ctx, domain.SessionFilter{})
}

// KillSession hard-deletes a session.
func (s *Store) KillSession(ctx context.Context, id string) error {
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return wrap("kill", err)
	}
	return nil
}

// StaleSessions lists the non-reserved sessions idle for longer than threshold.
func (s *Store) StaleSessions(ctx context.Context, threshold time.Duration) ([]*domain.Session, error) {
	notReserved := false
	return s.FindSessions(ctx, domain.SessionFilter{
		Reserved:         &notReserved,
		LastAccessBefore: s.now().Add(-threshold),
	})
}

// SweepExpired deletes non-reserved sessions idle for longer than threshold.
func (s *Store) SweepExpired(ctx context.Context, threshold time.Duration) (int64, error) {
	n, err := s.repo.DeleteStaleSessions(ctx, s.now().Add(-threshold))
	if err != nil {
		return 0, wrap("sweep", err)
	}
	metrics.SessionsSweptTotal.Add(float64(n))
	return n, nil
}

// FindReservedSession returns the ID of the reserved session for the pair, or
// an empty string when there is none.
func (s *Store) FindReservedSession(ctx context.Context, externalUserID, provider string) (string, error) {
	reserved := true
	sessions, err := s.FindSessions(ctx, domain.SessionFilter{
		ExternalUserID: externalUserID,
		Provider:       provider,
		Reserved:       &reserved,
	})
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", nil
	}
	if len(sessions) > 1 {
		log.Error().Str("external_user_id", externalUserID).Str("provider", provider).
			Int("count", len(sessions)).Msg("More than one reserved session found")
	}
	return sessions[0].ID, nil
}

// ErrTransition builds the error for a disallowed status edge.
func ErrTransition(from, to domain.SessionStatus) error {
	return &transitionError{from: from, to: to}
}

type transitionError struct {
	from, to domain.SessionStatus
}

func (e *transitionError) Error() string {
	return "cannot move session from " + e.from.String() + " to " + e.to.String()
}

func (e *transitionError) Is(target error) bool { return target == domain.ErrInvalidTransition }

// wrap turns backend failures into *domain.StoreError while letting the
// domain sentinels through unchanged.
func wrap(op string, err error) error {
	var storeErr *domain.StoreError
	switch {
	case errors.As(err, &storeErr),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSessionExists),
		errors.Is(err, domain.ErrStatusConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrReservationConflict),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrUnknownField):
		return err
	}
	return &domain.StoreError{Op: op, Err: err}
}
