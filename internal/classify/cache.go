package classify

import (
	"sync"
	"time"
)

// cacheEntry memoizes one classification result.
type cacheEntry struct {
	label      string
	confidence float64
	insertedAt time.Time
}

// Cache memoizes classification results by normalized text with a TTL.
// Staleness is checked at read time; expired entries are also swept on
// insert so a long-running process does not grow without bound.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache returns a cache with the given time-to-live.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a non-stale cached result for key. ok is false when the entry
// is absent or older than the TTL; the caller must re-classify.
func (c *Cache) Get(key string) (label string, confidence float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		return "", 0, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		return "", 0, false
	}
	return e.label, e.confidence, true
}

// Put stores a result and sweeps any entries past the TTL.
func (c *Cache) Put(key, label string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{label: label, confidence: confidence, insertedAt: now}
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
