package redis

import (
	"context"
	"errors"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// SessionCache implements tracking.Cache using the generic Redis Cache.
// It keeps hot session state next to the capture pipeline so a scoring
// cycle does not hit Postgres for every frame.
type SessionCache struct {
	cache *Cache
}

// NewSessionCache creates a new SessionCache.
func NewSessionCache(cache *Cache) *SessionCache {
	return &SessionCache{cache: cache}
}

// Get returns a cached session or ErrCacheMiss.
func (s *SessionCache) Get(ctx context.Context, id tracking.SessionID) (*tracking.Session, error) {
	var session tracking.Session
	if err := s.cache.Get(ctx, SessionKey(id.String()), &session); err != nil {
		return nil, err
	}
	if session.History == nil {
		session.History = []string{}
	}
	return &session, nil
}

// Set stores a session with the given TTL.
func (s *SessionCache) Set(ctx context.Context, session *tracking.Session, ttl time.Duration) error {
	if session == nil {
		return nil
	}
	return s.cache.Set(ctx, SessionKey(session.ID.String()), session, ttl)
}

// Delete removes a session from the cache.
func (s *SessionCache) Delete(ctx context.Context, id tracking.SessionID) error {
	return s.cache.Delete(ctx, SessionKey(id.String()))
}

// InvalidateAll clears the entire session cache.
func (s *SessionCache) InvalidateAll(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, PrefixSession+"*")
}

// IsMiss reports whether the error is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
