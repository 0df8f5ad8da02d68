package infra

import (
	"strings"
	"sync"
	"time"
)

// CacheEntry holds a cached value with expiration.
type CacheEntry struct {
	Value     any
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Cache is a thread-safe in-memory cache with per-entry TTL.
//
// The generation advances on every invalidation. A caller that computes a
// value outside the lock reads Generation first and stores the result with
// SetIfGeneration, which refuses the write if an invalidation ran meanwhile.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	gen     uint64
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source. Used by tests to step past a TTL.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a new cache with the given default TTL.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. Returns nil, false if not found or expired.
// An entry is expired once now reaches its expiry time.
func (c *Cache) Get(key string) (any, bool) {
	entry, ok := c.Entry(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Entry returns the live entry for key.
func (c *Cache) Entry(key string) (CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.ExpiresAt) {
		return CacheEntry{}, false
	}
	return entry, true
}

// Set stores a value in the cache with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) CacheEntry {
	now := c.now()
	entry := CacheEntry{
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// SetIfGeneration stores value only if no invalidation happened since gen
// was read. The check and the store are atomic.
func (c *Cache) SetIfGeneration(key string, value any, ttl time.Duration, gen uint64) (CacheEntry, bool) {
	now := c.now()
	entry := CacheEntry{
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return CacheEntry{}, false
	}
	c.entries[key] = entry
	return entry, true
}

// InvalidatePrefix removes every key starting with prefix and returns how many were dropped.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Cleanup removes expired entries. Can be called periodically.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	now := c.now()
	for k, v := range c.entries {
		if !now.Before(v.ExpiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
