package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a catalog response is served from cache.
const DefaultCacheTTL = 60 * time.Second

// Cache stores extracted catalog payloads by call signature.
// Implementations are best-effort: a failed Set is not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	storedAt time.Time
	payload  []byte
}

// MemoryCache is an in-process TTL cache. Expired entries are evicted
// lazily when they are read.
type MemoryCache struct {
	clock Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates a MemoryCache with the given TTL
// (DefaultCacheTTL if ttl <= 0).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return NewMemoryCacheWithClock(realClock{}, ttl)
}

// NewMemoryCacheWithClock creates a MemoryCache with a custom clock (for testing).
func NewMemoryCacheWithClock(clock Clock, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	// Fast path: read lock for a fresh hit.
	c.mu.RLock()
	e, ok := c.entries[key]
	if ok && c.fresh(e) {
		c.mu.RUnlock()
		return e.payload, true
	}
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	// Stale: evict under the write lock, re-checking in case a
	// concurrent Set refreshed the entry.
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.entries[key]
	if ok && c.fresh(e) {
		return e.payload, true
	}
	delete(c.entries, key)
	return nil, false
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{storedAt: c.clock.Now(), payload: value}
}

// Len returns the number of stored entries, including stale ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) fresh(e cacheEntry) bool {
	return c.clock.Now().Before(e.storedAt.Add(c.ttl))
}

// cacheKey derives a deterministic key from an operation name and its
// parameters: "op?a=1&b=2" with parameters sorted by name.
func cacheKey(op string, params map[string]string) string {
	if len(params) == 0 {
		return op
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + params[k]
	}
	return op + "?" + strings.Join(parts, "&")
}
