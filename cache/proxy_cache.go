package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/oauthdirac/domain"
)

// ProxyCache keeps issued proxies by DN until they expire.
type ProxyCache interface {
	GetProxy(ctx context.Context, dn string) (*domain.Proxy, bool, error)
	SetProxy(ctx context.Context, proxy *domain.Proxy) error
	DeleteProxy(ctx context.Context, dn string) error
}

// MemoryProxyCache implements ProxyCache using ttlcache.
type MemoryProxyCache struct {
	cache *ttlcache.Cache[string, *domain.Proxy]
}

var _ ProxyCache = (*MemoryProxyCache)(nil)

// NewMemoryProxyCache creates a new in-memory proxy cache with automatic cleanup.
func NewMemoryProxyCache() *MemoryProxyCache {
	c := ttlcache.New(ttlcache.WithDisableTouchOnHit[string, *domain.Proxy]())
	go c.Start()

	return &MemoryProxyCache{cache: c}
}

// Close stops the cleanup goroutine.
func (s *MemoryProxyCache) Close() {
	s.cache.Stop()
}

func (s *MemoryProxyCache) GetProxy(_ context.Context, dn string) (*domain.Proxy, bool, error) {
	item := s.cache.Get(HashKey(dn))
	if item == nil {
		return nil, false, nil
	}
	p := *item.Value()
	return &p, true, nil
}

// SetProxy stores the proxy until its expiry. Expired proxies are not stored.
func (s *MemoryProxyCache) SetProxy(_ context.Context, proxy *domain.Proxy) error {
	ttl := time.Until(proxy.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	p := *proxy
	s.cache.Set(HashKey(proxy.DN), &p, ttl)
	return nil
}

func (s *MemoryProxyCache) DeleteProxy(_ context.Context, dn string) error {
	s.cache.Delete(HashKey(dn))
	return nil
}
