package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is not present.
var ErrCacheMiss = errors.New("cache miss")

// ResponseCache stores completed provider responses keyed by request
// content. Streaming responses are never cached.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// ResponseKey derives a deterministic cache key from the request parts
// that determine the response.
func ResponseKey(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return "resp:" + hex.EncodeToString(h.Sum(nil))
}

// MemoryResponseCache is an in-process ResponseCache.
type MemoryResponseCache struct {
	cache *gocache.Cache
}

// NewMemoryResponseCache creates an in-process response cache.
func NewMemoryResponseCache(defaultTTL time.Duration) *MemoryResponseCache {
	return &MemoryResponseCache{
		cache: gocache.New(defaultTTL, defaultTTL*2),
	}
}

// Get returns the cached response for key.
func (c *MemoryResponseCache) Get(ctx context.Context, key string) (string, error) {
	if val, found := c.cache.Get(key); found {
		if str, ok := val.(string); ok {
			return str, nil
		}
	}
	return "", ErrCacheMiss
}

// Set stores a response under key.
func (c *MemoryResponseCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.cache.Set(key, value, ttl)
	return nil
}

// Close is a no-op for the in-process cache.
func (c *MemoryResponseCache) Close() error { return nil }

// RedisResponseCache is a Redis-backed ResponseCache shared across
// replicas.
type RedisResponseCache struct {
	client *redis.Client
}

// NewRedisResponseCache creates a Redis-backed response cache and verifies
// connectivity.
func NewRedisResponseCache(ctx context.Context, addr string) (*RedisResponseCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisResponseCache{client: client}, nil
}

// Get returns the cached response for key.
func (c *RedisResponseCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores a response under key.
func (c *RedisResponseCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisResponseCache) Close() error {
	return c.client.Close()
}
