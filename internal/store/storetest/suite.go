// Package storetest holds the behaviour every session repository backend
// must show when driven through store.Store.
package storetest

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one sub-test.
type Factory func(t *testing.T) domain.SessionRepository

// FakeClock is a settable clock safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{now: t} }

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]{30}$`)

// Run executes the suite against backends produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	start := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("CreateGeneratesUniqueIDs", func(t *testing.T) {
		s := store.New(newRepo(t))
		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			id, err := s.CreateSession(ctx, "demoIdP", "")
			require.NoError(t, err)
			assert.Regexp(t, idPattern, id)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	})

	t.Run("CreateWithExplicitID", func(t *testing.T) {
		s := store.New(newRepo(t))
		id, err := s.CreateSession(ctx, "demoIdP", "my-session")
		require.NoError(t, err)
		assert.Equal(t, "my-session", id)

		sess, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPrepared, sess.Status)
		assert.Equal(t, "demoIdP", sess.Provider)
		assert.Equal(t, domain.DefaultTokenType, sess.Tokens.TokenType)

		_, err = s.CreateSession(ctx, "demoIdP", "my-session")
		assert.ErrorIs(t, err, domain.ErrSessionExists)
	})

	t.Run("CreateRetriesCollisions", func(t *testing.T) {
		repo := newRepo(t)
		seed := store.New(repo)
		_, err := seed.CreateSession(ctx, "demoIdP", "taken")
		require.NoError(t, err)

		calls := 0
		s := store.New(repo, store.WithIDGenerator(func() (string, error) {
			calls++
			if calls < 5 {
				return "taken", nil
			}
			return "free", nil
		}))
		id, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		assert.Equal(t, "free", id)
		assert.Equal(t, 5, calls)
	})

	t.Run("CreateExhaustsIDSpace", func(t *testing.T) {
		repo := newRepo(t)
		_, err := store.New(repo).CreateSession(ctx, "demoIdP", "taken")
		require.NoError(t, err)

		calls := 0
		s := store.New(repo, store.WithIDGenerator(func() (string, error) {
			calls++
			return "taken", nil
		}))
		_, err = s.CreateSession(ctx, "demoIdP", "")
		assert.ErrorIs(t, err, domain.ErrExhaustedIDSpace)
		assert.Equal(t, store.MaxIDAttempts, calls)
	})

	t.Run("UpdateStoresAbsoluteExpiry", func(t *testing.T) {
		clock := NewFakeClock(start)
		s := store.New(newRepo(t), store.WithClock(clock.Now))
		id, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		updateTime := clock.Now()
		sess, err := s.UpdateSession(ctx, id, domain.SessionUpdate{
			Tokens: &domain.TokenBundle{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600},
		})
		require.NoError(t, err)
		assert.WithinDuration(t, updateTime, sess.LastAccess, time.Millisecond)

		stored, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		assert.WithinDuration(t, updateTime.Add(time.Hour), stored.Tokens.ExpiresAt, time.Second)
		assert.WithinDuration(t, updateTime, stored.LastAccess, time.Second)
		assert.Equal(t, "rt", stored.Tokens.RefreshToken)
	})

	t.Run("UpdateRejectsInvalidTransition", func(t *testing.T) {
		s := store.New(newRepo(t))
		id, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)

		authed := domain.StatusAuthed
		_, err = s.UpdateSession(ctx, id, domain.SessionUpdate{Status: &authed})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		needToAuth := domain.StatusNeedToAuth
		_, err = s.UpdateSession(ctx, id, domain.SessionUpdate{Status: &needToAuth})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		sess, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPrepared, sess.Status)
	})

	t.Run("UpdateMissingSession", func(t *testing.T) {
		s := store.New(newRepo(t))
		comment := "x"
		_, err := s.UpdateSession(ctx, "missing", domain.SessionUpdate{Comment: &comment})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("TransitionIsCompareAndSet", func(t *testing.T) {
		s := store.New(newRepo(t))
		id, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)

		from := []domain.SessionStatus{domain.StatusPrepared, domain.StatusInProgress}
		sess, err := s.TransitionStatus(ctx, id, from, domain.StatusFinishing)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFinishing, sess.Status)

		_, err = s.TransitionStatus(ctx, id, from, domain.StatusFinishing)
		require.ErrorIs(t, err, domain.ErrStatusConflict)
		var conflict *domain.StatusConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, domain.StatusFinishing, conflict.Observed)
	})

	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) {
		s := store.New(newRepo(t))
		id, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.TransitionStatus(ctx, id,
					[]domain.SessionStatus{domain.StatusPrepared, domain.StatusInProgress}, domain.StatusFinishing)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		winners := 0
		for err := range results {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrStatusConflict)
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("ReservationInvariant", func(t *testing.T) {
		s := store.New(newRepo(t))
		reserve := func(id string) error {
			ext, reserved := "ext-1", true
			_, err := s.UpdateSession(ctx, id, domain.SessionUpdate{ExternalUserID: &ext, Reserved: &reserved})
			return err
		}
		first, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		second, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		other, err := s.CreateSession(ctx, "otherIdP", "")
		require.NoError(t, err)

		require.NoError(t, reserve(first))
		assert.ErrorIs(t, reserve(second), domain.ErrReservationConflict)
		assert.NoError(t, reserve(other), "another provider has its own reservation")

		found, err := s.FindReservedSession(ctx, "ext-1", "demoIdP")
		require.NoError(t, err)
		assert.Equal(t, first, found)

		none, err := s.FindReservedSession(ctx, "ext-2", "demoIdP")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("SweepSkipsReserved", func(t *testing.T) {
		clock := NewFakeClock(start)
		s := store.New(newRepo(t), store.WithClock(clock.Now))

		stale, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		reservedID, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		ext, reserved := "ext-1", true
		_, err = s.UpdateSession(ctx, reservedID, domain.SessionUpdate{ExternalUserID: &ext, Reserved: &reserved})
		require.NoError(t, err)

		clock.Advance(11 * time.Hour)
		fresh, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		clock.Advance(2 * time.Hour)

		candidates, err := s.StaleSessions(ctx, 12*time.Hour)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, stale, candidates[0].ID)

		n, err := s.SweepExpired(ctx, 12*time.Hour)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = s.GetSession(ctx, stale)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		_, err = s.GetSession(ctx, reservedID)
		assert.NoError(t, err)
		_, err = s.GetSession(ctx, fresh)
		assert.NoError(t, err)
	})

	t.Run("FindAndKill", func(t *testing.T) {
		s := store.New(newRepo(t))
		a, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		_, err = s.CreateSession(ctx, "otherIdP", "")
		require.NoError(t, err)
		child, err := s.CreateChildSession(ctx, "otherIdP", a)
		require.NoError(t, err)

		found, err := s.FindSessions(ctx, domain.SessionFilter{Provider: "demoIdP"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, a, found[0].ID)

		children, err := s.FindSessions(ctx, domain.SessionFilter{ParentSessionID: a})
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, child, children[0].ID)

		fields, err := s.GetFields(ctx, a, domain.FieldProvider, domain.FieldStatus)
		require.NoError(t, err)
		assert.Equal(t, "demoIdP", fields.Provider)
		assert.Equal(t, domain.StatusPrepared, fields.Status)

		require.NoError(t, s.KillSession(ctx, a))
		_, err = s.GetSession(ctx, a)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.ErrorIs(t, s.KillSession(ctx, a), domain.ErrSessionNotFound)

		all, err := s.ListSessions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("StoredRecordsAreCopies", func(t *testing.T) {
		s := store.New(newRepo(t))
		id, err := s.CreateSession(ctx, "demoIdP", "")
		require.NoError(t, err)
		profile := &domain.UserProfile{ExternalUserID: "ext-1", DNs: []string{"/CN=a"}}
		_, err = s.UpdateSession(ctx, id, domain.SessionUpdate{Profile: profile})
		require.NoError(t, err)
		profile.DNs[0] = "/CN=changed"

		sess, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, sess.Profile)
		assert.Equal(t, []string{"/CN=a"}, sess.Profile.DNs)
	})
}
