package aggregate

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// Default time-to-live per entity kind: single instruments change fastest.
const (
	DefaultInstrumentTTL = 5 * time.Minute
	DefaultSectorTTL     = 15 * time.Minute
	DefaultMarketTTL     = 30 * time.Minute
)

// Computer produces the values the cache memoizes. *Aggregator implements it.
type Computer interface {
	Snapshot(ctx context.Context, key models.EntityKey, window time.Duration) (*models.AggregateSnapshot, error)
	MarketSummary(ctx context.Context, window time.Duration) (*models.MarketSummary, error)
}

// CacheStats counts cache lookups.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// ResultCache memoizes snapshots keyed by (kind, id, window) with a TTL per
// kind. Invalidate drops an entity's entries immediately, so a written
// entity is never served stale; entities not invalidated are at most one
// TTL old. Concurrent misses for one key share a single computation.
//
// A computation that started before an invalidation is returned to its
// callers but not stored; the generation check and the store happen under
// the cache lock. Callers always receive copies.
type ResultCache struct {
	computer Computer
	cache    *infra.Cache
	ttls     map[models.EntityKind]time.Duration
	now      func() time.Time
	group    singleflight.Group

	hits, misses, invalidations atomic.Int64
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithTTL sets the TTL for one entity kind.
func WithTTL(kind models.EntityKind, ttl time.Duration) CacheOption {
	return func(c *ResultCache) { c.ttls[kind] = ttl }
}

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *ResultCache) { c.now = now }
}

// NewResultCache wraps computer with a TTL cache.
func NewResultCache(computer Computer, opts ...CacheOption) *ResultCache {
	c := &ResultCache{
		computer: computer,
		ttls: map[models.EntityKind]time.Duration{
			models.EntityInstrument: DefaultInstrumentTTL,
			models.EntitySector:     DefaultSectorTTL,
			models.EntityMarket:     DefaultMarketTTL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = infra.NewCache(DefaultInstrumentTTL, infra.WithClock(c.now))
	return c
}

// TTL returns the time-to-live for kind.
func (c *ResultCache) TTL(kind models.EntityKind) time.Duration {
	if ttl, ok := c.ttls[kind]; ok {
		return ttl
	}
	return DefaultInstrumentTTL
}

// Snapshot returns the cached snapshot for (key, window), computing it on a
// miss or after expiry. The boolean reports a cache hit.
func (c *ResultCache) Snapshot(ctx context.Context, key models.EntityKey, window time.Duration) (*models.AggregateSnapshot, bool, error) {
	ck := models.CacheKey(key, window)
	if v, ok := c.cache.Get(ck); ok {
		c.hits.Add(1)
		snap := v.(models.AggregateSnapshot).Clone()
		return &snap, true, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(ck, func() (any, error) {
		gen := c.cache.Generation()
		snap, err := c.computer.Snapshot(ctx, key, window)
		if err != nil {
			return nil, err
		}
		ttl := c.TTL(key.Kind)
		snap.ExpiresAt = c.now().Add(ttl)
		c.cache.SetIfGeneration(ck, *snap, ttl, gen)
		return *snap, nil
	})
	if err != nil {
		return nil, false, err
	}
	snap := v.(models.AggregateSnapshot).Clone()
	return &snap, false, nil
}

func summaryKey(window time.Duration) string {
	return string(models.EntityMarket) + ":summary:" + window.String()
}

// MarketSummary returns the cached market summary for window. It shares the
// market TTL and is dropped by every invalidation.
func (c *ResultCache) MarketSummary(ctx context.Context, window time.Duration) (*models.MarketSummary, bool, error) {
	ck := summaryKey(window)
	if v, ok := c.cache.Get(ck); ok {
		c.hits.Add(1)
		return v.(*models.MarketSummary).Clone(), true, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(ck, func() (any, error) {
		gen := c.cache.Generation()
		sum, err := c.computer.MarketSummary(ctx, window)
		if err != nil {
			return nil, err
		}
		c.cache.SetIfGeneration(ck, sum, c.TTL(models.EntityMarket), gen)
		return sum, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.MarketSummary).Clone(), false, nil
}

// Invalidate drops every window cached for the entity and all market-wide
// entries, which include it.
func (c *ResultCache) Invalidate(kind models.EntityKind, id string) int {
	c.invalidations.Add(1)
	n := 0
	if kind != models.EntityMarket {
		n += c.cache.InvalidatePrefix(string(kind) + ":" + id + ":")
	}
	n += c.cache.InvalidatePrefix(string(models.EntityMarket) + ":")
	return n
}

// InvalidateScore drops the entries a newly written score affects.
func (c *ResultCache) InvalidateScore(s *models.SentimentScore) {
	switch {
	case s.Symbol != "":
		c.Invalidate(models.EntityInstrument, s.Symbol)
	case s.Sector != "":
		c.Invalidate(models.EntitySector, s.Sector)
	default:
		c.Invalidate(models.EntityMarket, "")
	}
}

// Stats returns lookup counters.
func (c *ResultCache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Prune removes expired entries.
func (c *ResultCache) Prune() { c.cache.Cleanup() }

// Len returns the number of stored entries.
func (c *ResultCache) Len() int { return c.cache.Len() }
