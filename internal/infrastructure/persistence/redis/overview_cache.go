// Package redis implements Redis caching, pub/sub, and presence tracking.
package redis

import (
	"context"
	"time"

	"github.com/classlens/classlens-monitor/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSROOM OVERVIEW CACHE
// ══════════════════════════════════════════════════════════════════════════════

// OverviewCache implements query.OverviewCache.
// Overviews are rebuilt from Postgres on every miss; a short TTL keeps
// the dashboard fresh while absorbing the polling load.
type OverviewCache struct {
	cache *Cache
}

// NewOverviewCache creates a new OverviewCache.
func NewOverviewCache(cache *Cache) *OverviewCache {
	return &OverviewCache{cache: cache}
}

// GetOverview returns a cached overview or ErrCacheMiss.
func (c *OverviewCache) GetOverview(ctx context.Context, classroom string) (*query.ClassroomOverviewDTO, error) {
	var overview query.ClassroomOverviewDTO
	if err := c.cache.Get(ctx, ClassroomKey(classroom), &overview); err != nil {
		return nil, err
	}
	return &overview, nil
}

// SetOverview stores an overview with the given TTL.
func (c *OverviewCache) SetOverview(ctx context.Context, classroom string, o *query.ClassroomOverviewDTO, ttl time.Duration) error {
	if o == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = TTLOverviewCache
	}
	return c.cache.Set(ctx, ClassroomKey(classroom), o, ttl)
}

// InvalidateOverview drops a cached overview, forcing a rebuild.
func (c *OverviewCache) InvalidateOverview(ctx context.Context, classroom string) error {
	return c.cache.Delete(ctx, ClassroomKey(classroom))
}
