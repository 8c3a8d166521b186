// Package cache holds the in-process caches of the bridge: identity profiles,
// session lookups and issued proxies.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss is returned when a key is still absent after a refresh.
var ErrCacheMiss = errors.New("cache miss")

// BulkLoader returns the complete content of a cache.
type BulkLoader[K comparable, V any] func(ctx context.Context) (map[K]V, error)

// KeyLoader loads a single entry.
type KeyLoader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// RefreshingCache is a TTL cache that refreshes itself on a miss. A cache is
// either bulk loaded, where a miss reloads everything, or key loaded, where a
// miss loads only the missing key. Concurrent misses share one load.
type RefreshingCache[K comparable, V any] struct {
	name  string
	ttl   time.Duration
	items *ttlcache.Cache[K, V]

	bulk   BulkLoader[K, V]
	single KeyLoader[K, V]

	// refreshMu serialises bulk refreshes. mu guards writes to items and the
	// keys written while a refresh is loading; those keep their newer value.
	refreshMu   sync.Mutex
	mu          sync.Mutex
	touched     map[K]struct{}
	group       singleflight.Group
	lastRefresh time.Time
}

// NewBulk creates a cache whose content is reloaded as a whole.
func NewBulk[K comparable, V any](name string, ttl time.Duration, loader BulkLoader[K, V]) *RefreshingCache[K, V] {
	c := newCache[K, V](name, ttl)
	c.bulk = loader
	return c
}

// NewKeyed creates a cache that loads entries one by one.
func NewKeyed[K comparable, V any](name string, ttl time.Duration, loader KeyLoader[K, V]) *RefreshingCache[K, V] {
	c := newCache[K, V](name, ttl)
	c.single = loader
	return c
}

func newCache[K comparable, V any](name string, ttl time.Duration) *RefreshingCache[K, V] {
	items := ttlcache.New(
		ttlcache.WithTTL[K, V](ttl),
		ttlcache.WithDisableTouchOnHit[K, V](),
	)
	go items.Start()

	return &RefreshingCache[K, V]{name: name, ttl: ttl, items: items}
}

// Close stops the expiry goroutine.
func (c *RefreshingCache[K, V]) Close() {
	c.items.Stop()
}

// Get returns the entry for key, refreshing once on a miss.
func (c *RefreshingCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), nil
	}

	var zero V
	if c.single != nil {
		v, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
			v, err := c.single(ctx, key)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.items.Set(key, v, ttlcache.DefaultTTL)
			c.mu.Unlock()
			return v, nil
		})
		if err != nil {
			return zero, err
		}
		val, _ := v.(V)
		return val, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return zero, err
	}
	if item := c.items.Get(key); item != nil {
		return item.Value(), nil
	}
	return zero, ErrCacheMiss
}

// Peek returns the cached entry without loading anything.
func (c *RefreshingCache[K, V]) Peek(key K) (V, bool) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), true
	}
	var zero V
	return zero, false
}

// Refresh reloads a bulk cache. For a keyed cache it drops every entry so the
// next Get reloads it. Refreshing twice without a change in the source
// leaves the same content. Entries written with Set or Delete while the load
// runs are not overwritten by it.
func (c *RefreshingCache[K, V]) Refresh(ctx context.Context) error {
	if c.bulk == nil {
		c.mu.Lock()
		c.items.DeleteAll()
		c.mu.Unlock()
		return nil
	}
	_, err, _ := c.group.Do("\x00refresh", func() (any, error) {
		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()

		c.mu.Lock()
		c.touched = make(map[K]struct{})
		c.mu.Unlock()

		data, err := c.bulk(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		touched := c.touched
		c.touched = nil
		if err != nil {
			log.Error().Err(err).Str("cache", c.name).Msg("Failed to refresh cache")
			return nil, err
		}
		for k := range c.items.Items() {
			if _, ok := data[k]; ok {
				continue
			}
			if _, ok := touched[k]; !ok {
				c.items.Delete(k)
			}
		}
		for k, v := range data {
			if _, ok := touched[k]; !ok {
				c.items.Set(k, v, ttlcache.DefaultTTL)
			}
		}
		c.lastRefresh = time.Now()
		log.Debug().Str("cache", c.name).Int("entries", len(data)).Int("kept", len(touched)).Msg("Cache refreshed")
		return nil, nil
	})
	return err
}

// Set stores an entry with the cache TTL.
func (c *RefreshingCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key, value, ttlcache.DefaultTTL)
	c.touch(key)
}

// Delete drops an entry.
func (c *RefreshingCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(key)
	c.touch(key)
}

func (c *RefreshingCache[K, V]) touch(key K) {
	if c.touched != nil {
		c.touched[key] = struct{}{}
	}
}

// Snapshot copies the current content.
func (c *RefreshingCache[K, V]) Snapshot() map[K]V {
	items := c.items.Items()
	out := make(map[K]V, len(items))
	for k, item := range items {
		out[k] = item.Value()
	}
	return out
}

// Len returns the number of cached entries.
func (c *RefreshingCache[K, V]) Len() int {
	return c.items.Len()
}

// LastRefresh reports when the last bulk refresh finished.
func (c *RefreshingCache[K, V]) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}
