package chart

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache keeps rendered charts for a short period, keyed by kind and cell.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	cacheTTL time.Duration
	clock    clockwork.Clock
	maxSize  int
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCache creates a chart cache with the specified TTL.
func NewCache(ttl time.Duration, maxSize int, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries:  make(map[string]cacheEntry),
		cacheTTL: ttl,
		clock:    clock,
		maxSize:  maxSize,
	}
}

// Get returns the cached chart if still valid.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// Set stores a chart. Expired entries are dropped once the cache is full,
// and if that frees nothing the whole cache is cleared.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			clear(c.entries)
		}
	}
	c.entries[key] = cacheEntry{data: data, expiresAt: now.Add(c.cacheTTL)}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
