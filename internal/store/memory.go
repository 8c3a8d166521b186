package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
)

// MemoryRepository keeps sessions in a map. It is meant for tests and
// single-process development setups.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory backend.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

var _ domain.SessionRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) InsertSession(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return domain.ErrSessionExists
	}
	if err := r.checkReservation(session); err != nil {
		return err
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *MemoryRepository) GetSession(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) UpdateSession(_ context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = id
	if err := r.checkReservation(next); err != nil {
		return nil, err
	}
	r.sessions[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) FindSessions(_ context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Session
	for _, s := range r.sessions {
		if filter.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) DeleteStaleSessions(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if !s.Reserved && s.LastAccess.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// checkReservation must be called with the write lock held.
func (r *MemoryRepository) checkReservation(s *domain.Session) error {
	if !s.Reserved {
		return nil
	}
	for id, other := range r.sessions {
		if id != s.ID && other.Reserved &&
			other.ExternalUserID == s.ExternalUserID && other.Provider == s.Provider {
			return domain.ErrReservationConflict
		}
	}
	return nil
}
