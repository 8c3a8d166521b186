package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilab-dev/oauthdirac/cache"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	mu       sync.Mutex
	sessions []*domain.Session
	calls    int
	err      error
}

func (l *staticLister) ListSessions(context.Context) ([]*domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make([]*domain.Session, len(l.sessions))
	for i, s := range l.sessions {
		out[i] = s.Clone()
	}
	return out, nil
}

func (l *staticLister) set(sessions ...*domain.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = sessions
}

func TestProfileCache_RefreshIsIdempotent(t *testing.T) {
	lister := &staticLister{}
	lister.set(
		&domain.Session{ID: "b", Provider: "demoIdP", ExternalUserID: "ext-1", UserName: "jdoe",
			Profile: &domain.UserProfile{DNs: []string{"/CN=jdoe"}, Groups: []string{"users"}}},
		&domain.Session{ID: "a", Provider: "demoIdP", ExternalUserID: "ext-1", Reserved: true,
			Profile: &domain.UserProfile{DNs: []string{"/CN=jdoe2"}}},
		&domain.Session{ID: "c", Provider: "demoIdP"},
	)

	c := cache.NewProfileCache(lister, time.Hour)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	first := c.Snapshot()
	require.NoError(t, c.Refresh(ctx))
	second := c.Snapshot()

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	p := second["ext-1"]
	assert.Equal(t, []string{"a", "b"}, p.SessionIDs)
	assert.Equal(t, "a", p.ReservedSession)
	assert.Equal(t, "jdoe", p.UserName)
	assert.ElementsMatch(t, []string{"/CN=jdoe", "/CN=jdoe2"}, p.DNs)
}

func TestProfileCache_MissRefreshesOnce(t *testing.T) {
	lister := &staticLister{}
	c := cache.NewProfileCache(lister, time.Hour)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "ext-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	assert.Equal(t, 1, lister.calls)

	lister.set(&domain.Session{ID: "a", Provider: "demoIdP", ExternalUserID: "ext-1", UserName: "jdoe"})
	p, err := c.Get(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", p.UserName)
	assert.Equal(t, 2, lister.calls)

	_, err = c.Get(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls, "hit must not reload")
	assert.False(t, c.LastRefresh().IsZero())
}

func TestProfileCache_RefreshErrorKeepsContent(t *testing.T) {
	lister := &staticLister{}
	lister.set(&domain.Session{ID: "a", Provider: "demoIdP", ExternalUserID: "ext-1"})
	c := cache.NewProfileCache(lister, time.Hour)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	lister.err = errors.New("backend down")
	assert.Error(t, c.Refresh(ctx))

	_, ok := c.Peek("ext-1")
	assert.True(t, ok)
}

func TestRefreshingCache_WritesDuringRefreshWin(t *testing.T) {
	loading := make(chan struct{})
	release := make(chan struct{})
	c := cache.NewBulk("test", time.Hour, func(context.Context) (map[string]string, error) {
		close(loading)
		<-release
		return map[string]string{"ext": "old", "gone": "old", "other": "loaded"}, nil
	})
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	<-loading
	c.Set("ext", "new")
	c.Delete("gone")
	close(release)
	require.NoError(t, <-done)

	v, ok := c.Peek("ext")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	_, ok = c.Peek("gone")
	assert.False(t, ok)
	v, ok = c.Peek("other")
	require.True(t, ok)
	assert.Equal(t, "loaded", v)
}

func TestSessionCache_LoadsPerKey(t *testing.T) {
	var loads atomic.Int32
	c := cache.NewSessionCache(time.Minute, func(_ context.Context, id string) (string, error) {
		loads.Add(1)
		if id == "missing" {
			return "", domain.ErrSessionNotFound
		}
		return "provider-of-" + id, nil
	})
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(ctx, "s1")
			assert.NoError(t, err)
			assert.Equal(t, "provider-of-s1", v)
		}()
	}
	wg.Wait()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, ok := c.Peek("missing")
	assert.False(t, ok)

	before := loads.Load()
	_, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before, loads.Load())

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryProxyCache(t *testing.T) {
	c := cache.NewMemoryProxyCache()
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.GetProxy(ctx, "/CN=jdoe")
	require.NoError(t, err)
	assert.False(t, ok)

	proxy := &domain.Proxy{DN: "/CN=jdoe", PEM: "pem", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, c.SetProxy(ctx, proxy))

	got, ok, err := c.GetProxy(ctx, "/CN=jdoe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pem", got.PEM)

	require.NoError(t, c.SetProxy(ctx, &domain.Proxy{DN: "/CN=old", ExpiresAt: time.Now().Add(-time.Minute)}))
	_, ok, _ = c.GetProxy(ctx, "/CN=old")
	assert.False(t, ok)

	require.NoError(t, c.DeleteProxy(ctx, "/CN=jdoe"))
	_, ok, _ = c.GetProxy(ctx, "/CN=jdoe")
	assert.False(t, ok)
}
