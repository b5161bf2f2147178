// Package cache provides CacheStore implementations for the read-path
// results of the scoring engine.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var _ ports.CacheStore = (*MemoryCache)(nil)

// MemoryCache is an in-process CacheStore with per-entry expiry. Keys carry
// the evaluation version, so a stale entry is never read again once a
// mutation bumps the version; expiry and the entry cap only bound memory.
//
// Cached values are shared between readers and must not be mutated.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

type entry struct {
	value    any
	expires  time.Time
	inserted time.Time
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithMaxEntries caps the number of entries. When full, expired entries are
// dropped first, then the oldest insertion. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *MemoryCache) { c.maxEntries = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{entries: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value under key unless it is missing or expired.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, ports.NewCacheError(key, "Get", err)
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. A zero expiration never expires.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return ports.NewCacheError(key, "Set", err)
	}
	now := c.now()
	e := entry{value: value, inserted: now}
	if expiration > 0 {
		e.expires = now.Add(expiration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[key] = e
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict makes room for one entry. Callers hold mu.
func (c *MemoryCache) evict(now time.Time) {
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if oldestKey == "" || e.inserted.Before(oldest) || (e.inserted.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest = k, e.inserted
		}
	}
	delete(c.entries, oldestKey)
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}
