package geocode

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lox/daasclimate/internal/metrics"
	"github.com/lox/daasclimate/internal/models"
	"github.com/lox/daasclimate/internal/store"
)

// PayloadStore persists raw provider responses. *store.Store implements it.
type PayloadStore interface {
	GetLookup(ctx context.Context, provider, key string, maxAge time.Duration) (*store.LookupEntry, error)
	PutLookup(ctx context.Context, provider, key string, payload []byte) (bool, error)
}

// CachedGeocoder serves repeated queries from an in-memory LRU and, when a
// store is set, from persisted responses before calling the API.
type CachedGeocoder struct {
	inner  Fetcher
	cache  *lru.Cache[string, models.Location]
	store  PayloadStore
	maxAge time.Duration
	logger *slog.Logger
}

// NewCachedGeocoder creates a cache decorator around a fetcher. st may be
// nil to keep the cache in memory only.
func NewCachedGeocoder(inner Fetcher, maxEntries int, st PayloadStore, logger *slog.Logger) *CachedGeocoder {
	if maxEntries < 1 {
		maxEntries = 1
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, models.Location](maxEntries)
	return &CachedGeocoder{
		inner:  inner,
		cache:  cache,
		store:  st,
		maxAge: 90 * 24 * time.Hour,
		logger: logger,
	}
}

// cacheKey folds case and whitespace so trivially different spellings of
// the same query share an entry.
func cacheKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func (c *CachedGeocoder) Geocode(ctx context.Context, text string) (models.Location, error) {
	key := cacheKey(text)
	if loc, ok := c.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(provider, "memory_hit").Inc()
		loc.Query = text
		return loc, nil
	}

	if c.store != nil {
		e, err := c.store.GetLookup(ctx, provider, key, c.maxAge)
		if err != nil {
			c.logger.Warn("lookup cache read failed", "provider", provider, "error", err)
		} else if e != nil {
			if loc, err := Parse(text, e.Payload); err == nil {
				metrics.CacheLookups.WithLabelValues(provider, "store_hit").Inc()
				c.cache.Add(key, loc)
				return loc, nil
			}
		}
	}

	metrics.CacheLookups.WithLabelValues(provider, "miss").Inc()
	body, err := c.inner.Fetch(ctx, text)
	if err != nil {
		return models.Location{}, err
	}
	loc, err := Parse(text, body)
	if err != nil {
		// Not found responses are not cached so a corrected place database is picked up.
		if errors.Is(err, ErrNotFound) {
			metrics.ProviderCallsTotal.WithLabelValues(provider, "not_found").Inc()
		}
		return models.Location{}, err
	}

	c.cache.Add(key, loc)
	if c.store != nil {
		if _, err := c.store.PutLookup(ctx, provider, key, body); err != nil {
			c.logger.Warn("lookup cache write failed", "provider", provider, "error", err)
		}
	}
	return loc, nil
}
