package redis

import (
	"context"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/assignment"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentCache keeps the current assignment per classroom in Redis so
// that capture cycles do not hit Postgres for every prompt they build.
type AssignmentCache struct {
	cache *Cache
}

// NewAssignmentCache creates a new AssignmentCache.
func NewAssignmentCache(cache *Cache) *AssignmentCache {
	return &AssignmentCache{cache: cache}
}

// GetCurrent returns the cached assignment or ErrCacheMiss.
func (c *AssignmentCache) GetCurrent(ctx context.Context, classroom string) (*assignment.Assignment, error) {
	var a assignment.Assignment
	if err := c.cache.Get(ctx, AssignmentKey(classroom), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetCurrent stores the assignment with the given TTL.
func (c *AssignmentCache) SetCurrent(ctx context.Context, a *assignment.Assignment, ttl time.Duration) error {
	if a == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = TTLAssignmentCache
	}
	return c.cache.Set(ctx, AssignmentKey(a.Classroom.String()), a, ttl)
}

// Invalidate drops the cached assignment for a classroom.
func (c *AssignmentCache) Invalidate(ctx context.Context, classroom string) error {
	return c.cache.Delete(ctx, AssignmentKey(classroom))
}
