// Package cache provides the embedding cache and the optional response
// cache backends.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is a capacity-bounded LRU cache of embedding vectors with
// per-entry TTL. Keys are content hashes of the exact input text, so
// semantically identical but textually different inputs do not collide.
type EmbeddingCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, embeddingEntry]
	ttl time.Duration
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type embeddingEntry struct {
	vector   []float32
	storedAt time.Time
}

// EmbeddingCacheStats is a point-in-time snapshot of cache effectiveness.
type EmbeddingCacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewEmbeddingCache creates a cache holding at most maxSize entries, each
// valid for ttl after insertion.
func NewEmbeddingCache(maxSize int, ttl time.Duration) (*EmbeddingCache, error) {
	inner, err := lru.New[string, embeddingEntry](maxSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{
		lru: inner,
		ttl: ttl,
		now: time.Now,
	}, nil
}

// hashKey derives the cache key from the input text.
func hashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached vector for text. A hit refreshes the
// entry's recency. Entries past their TTL are removed lazily and count as
// misses.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := hashKey(text)

	c.mu.Lock()
	entry, ok := c.lru.Get(key)
	if ok && c.now().Sub(entry.storedAt) >= c.ttl {
		c.lru.Remove(key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return append([]float32(nil), entry.vector...), true
}

// Set stores a copy of the vector for text. At capacity the
// least-recently-used entry is evicted.
func (c *EmbeddingCache) Set(text string, vector []float32) {
	entry := embeddingEntry{
		vector:   append([]float32(nil), vector...),
		storedAt: c.now(),
	}

	c.mu.Lock()
	c.lru.Add(hashKey(text), entry)
	c.mu.Unlock()
}

// Len returns the current number of entries, including any not yet lazily
// expired.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops all entries. Counters are preserved.
func (c *EmbeddingCache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Stats returns a snapshot of cache effectiveness. HitRate is 0 before any
// lookups.
func (c *EmbeddingCache) Stats() EmbeddingCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return EmbeddingCacheStats{
		Size:    c.Len(),
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}
