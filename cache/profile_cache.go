package cache

import (
	"context"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
)

const (
	// DefaultProfileTTL is how long built profiles are kept.
	DefaultProfileTTL = 24 * time.Hour
	// DefaultSessionTTL is how long single session lookups are kept.
	DefaultSessionTTL = 15 * time.Minute
)

// SessionLister is the part of the session store the profile cache reads.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

// ProfileCache maps external user IDs to the profile built from their sessions.
type ProfileCache = RefreshingCache[string, *domain.Profile]

// NewProfileCache builds profiles from every stored session on refresh.
func NewProfileCache(sessions SessionLister, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return NewBulk("profiles", ttl, func(ctx context.Context) (map[string]*domain.Profile, error) {
		all, err := sessions.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		return domain.BuildProfiles(all), nil
	})
}

// SessionCache maps session IDs to a value derived from the session, such as
// its provider.
type SessionCache[V any] struct {
	*RefreshingCache[string, V]
}

// NewSessionCache creates a keyed session cache.
func NewSessionCache[V any](ttl time.Duration, loader KeyLoader[string, V]) *SessionCache[V] {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache[V]{RefreshingCache: NewKeyed("sessions", ttl, loader)}
}
