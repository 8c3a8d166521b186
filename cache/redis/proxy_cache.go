// Package redis implements the shared proxy cache on Redis, so several bridge
// instances hand out the same proxies.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pilab-dev/oauthdirac/cache"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ProxyCache implements cache.ProxyCache using Redis hashes.
type ProxyCache struct {
	client *redis.Client
	prefix string
	key    *[32]byte
}

var _ cache.ProxyCache = (*ProxyCache)(nil)

// Option configures a ProxyCache.
type Option func(*ProxyCache)

// WithEncryptionKey seals the proxy PEM, which carries the private key, with
// NaCl secretbox before it leaves the process.
func WithEncryptionKey(key [32]byte) Option {
	return func(r *ProxyCache) { r.key = &key }
}

// ParseKey decodes a base64 encoded 32 byte encryption key.
func ParseKey(encoded string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("invalid proxy cache key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid proxy cache key: want %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// NewProxyCache creates a new [ProxyCache] instance.
func NewProxyCache(client *redis.Client, prefix string, opts ...Option) *ProxyCache {
	r := &ProxyCache{
		client: client,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ProxyCache) seal(pem string) (string, error) {
	if r.key == nil {
		return pem, nil
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(pem), &nonce, r.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (r *ProxyCache) open(stored string) (string, error) {
	if r.key == nil {
		return stored, nil
	}
	box, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(box) < nonceSize {
		return "", errors.New("sealed proxy is malformed")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	pem, ok := secretbox.Open(nil, box[nonceSize:], &nonce, r.key)
	if !ok {
		return "", errors.New("sealed proxy does not open with the configured key")
	}
	return string(pem), nil
}

// redisKey returns the Redis key for a given DN.
func (r *ProxyCache) redisKey(dn string) string {
	return fmt.Sprintf("%s:proxy:%s", r.prefix, cache.HashKey(dn))
}

// SetProxy stores the proxy and lets Redis expire it together with the
// certificate.
func (r *ProxyCache) SetProxy(ctx context.Context, proxy *domain.Proxy) error {
	ttl := time.Until(proxy.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	key := r.redisKey(proxy.DN)
	pem, err := r.seal(proxy.PEM)
	if err != nil {
		return fmt.Errorf("failed to seal proxy: %w", err)
	}

	entry := map[string]interface{}{
		"dn":         proxy.DN,
		"pem":        pem,
		"expires_at": proxy.ExpiresAt.Unix(),
		"created_at": time.Now().Unix(),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set proxy in Redis: %w", err)
	}
	return nil
}

// GetProxy retrieves a proxy entry from Redis.
func (r *ProxyCache) GetProxy(ctx context.Context, dn string) (*domain.Proxy, bool, error) {
	res, err := r.client.HGetAll(ctx, r.redisKey(dn)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get proxy from Redis: %w", err)
	}
	if len(res) == 0 {
		return nil, false, nil
	}

	expiresAtUnix, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("dn", dn).Msg("Dropping proxy cache entry with invalid expiry")
		_ = r.DeleteProxy(ctx, dn)
		return nil, false, nil
	}

	pem, err := r.open(res["pem"])
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("dn", dn).Msg("Dropping unreadable proxy cache entry")
		_ = r.DeleteProxy(ctx, dn)
		return nil, false, nil
	}

	return &domain.Proxy{
		DN:        res["dn"],
		PEM:       pem,
		ExpiresAt: time.Unix(expiresAtUnix, 0).UTC(),
	}, true, nil
}

// DeleteProxy removes a proxy from Redis.
func (r *ProxyCache) DeleteProxy(ctx context.Context, dn string) error {
	if err := r.client.Del(ctx, r.redisKey(dn)).Err(); err != nil {
		return fmt.Errorf("failed to delete proxy from Redis: %w", err)
	}
	return nil
}
