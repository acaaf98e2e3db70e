// Package redis implements Redis caching, pub/sub, and presence tracking.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrSessionIDEmpty is returned when a session ID is empty.
	ErrSessionIDEmpty = errors.New("presence: session ID cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE EVENT STRUCTURE (for Pub/Sub)
// ══════════════════════════════════════════════════════════════════════════════

// PresenceEventType defines the type of presence change event.
type PresenceEventType string

const (
	// EventAgentSeen is emitted on the first heartbeat after silence.
	EventAgentSeen PresenceEventType = "agent_seen"

	// EventAgentLost is emitted when a session is explicitly cleared.
	EventAgentLost PresenceEventType = "agent_lost"
)

// PresenceEvent represents a presence change for Pub/Sub.
type PresenceEvent struct {
	// Type is the type of event.
	Type PresenceEventType `json:"type"`

	// SessionID is the tracked session.
	SessionID string `json:"session_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// Presence implements tracking.PresenceTracker using Redis.
// It uses TTL-based keys for automatic expiration and a sorted set for
// range queries over last-seen timestamps.
//
// Architecture:
//   - Each live session has a key "presence:{session_id}" with TTL
//   - A sorted set "presence:all" tracks all sessions by heartbeat timestamp
//   - Pub/Sub channel "pubsub:presence" broadcasts presence changes
type Presence struct {
	cache *Cache
}

// Key names for presence tracking.
const (
	// keyPresenceAll is the sorted set containing all live sessions.
	keyPresenceAll = "presence:all"

	// channelPresence is the Pub/Sub channel for presence changes.
	channelPresence = "pubsub:presence"
)

// NewPresence creates a new Presence tracker.
func NewPresence(cache *Cache) *Presence {
	return &Presence{cache: cache}
}

// Heartbeat records a sign of life for a session.
func (p *Presence) Heartbeat(ctx context.Context, id tracking.SessionID) error {
	if id == "" {
		return ErrSessionIDEmpty
	}

	now := time.Now().UTC()

	// Detect silence -> alive transition for the event
	wasLive, err := p.cache.Exists(ctx, PresenceKey(id.String()))
	if err != nil {
		return err
	}

	// Use pipeline for atomic operations
	pipe := p.cache.Client().Pipeline()

	pipe.Set(ctx, PresenceKey(id.String()), now.Format(time.RFC3339Nano), TTLPresence)
	pipe.ZAdd(ctx, keyPresenceAll, redis.Z{
		Score:  float64(now.Unix()),
		Member: id.String(),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	if !wasLive {
		p.publishEvent(ctx, PresenceEvent{
			Type:      EventAgentSeen,
			SessionID: id.String(),
			Timestamp: now,
		})
	}

	return nil
}

// LastSeen returns the time of the last heartbeat.
// Returns the zero time when no heartbeat is on record.
func (p *Presence) LastSeen(ctx context.Context, id tracking.SessionID) (time.Time, error) {
	if id == "" {
		return time.Time{}, ErrSessionIDEmpty
	}

	val, err := p.cache.GetString(ctx, PresenceKey(id.String()))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			// The TTL key may have expired while the sorted set still
			// remembers the timestamp.
			score, zerr := p.cache.Client().ZScore(ctx, keyPresenceAll, id.String()).Result()
			if zerr != nil {
				return time.Time{}, nil
			}
			return time.Unix(int64(score), 0).UTC(), nil
		}
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse heartbeat timestamp: %w", err)
	}
	return t, nil
}

// ActiveIDs returns sessions with a heartbeat no older than the window.
func (p *Presence) ActiveIDs(ctx context.Context, within time.Duration) ([]tracking.SessionID, error) {
	cutoff := time.Now().UTC().Add(-within).Unix()

	members, err := p.cache.Client().ZRangeByScore(ctx, keyPresenceAll, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query live sessions: %w", err)
	}

	ids := make([]tracking.SessionID, 0, len(members))
	for _, m := range members {
		ids = append(ids, tracking.SessionID(m))
	}
	return ids, nil
}

// Clear removes a session from presence tracking.
func (p *Presence) Clear(ctx context.Context, id tracking.SessionID) error {
	if id == "" {
		return ErrSessionIDEmpty
	}

	pipe := p.cache.Client().Pipeline()
	pipe.Del(ctx, PresenceKey(id.String()))
	pipe.ZRem(ctx, keyPresenceAll, id.String())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}

	p.publishEvent(ctx, PresenceEvent{
		Type:      EventAgentLost,
		SessionID: id.String(),
		Timestamp: time.Now().UTC(),
	})

	return nil
}

// CleanupStale removes sorted-set entries older than the presence TTL.
// The TTL keys expire on their own; the sorted set needs sweeping.
// Returns the number of removed entries.
func (p *Presence) CleanupStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-TTLPresence).Unix()

	removed, err := p.cache.Client().ZRemRangeByScore(
		ctx, keyPresenceAll, "-inf", fmt.Sprintf("%d", cutoff),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale presence: %w", err)
	}

	return removed, nil
}

// Subscribe returns a Pub/Sub subscription to presence events.
// Remember to call Close() on the returned PubSub when done.
func (p *Presence) Subscribe(ctx context.Context) *redis.PubSub {
	return p.cache.Subscribe(ctx, channelPresence)
}

// publishEvent publishes a presence event, ignoring failures.
// Presence events are advisory; losing one is not worth failing a heartbeat.
func (p *Presence) publishEvent(ctx context.Context, event PresenceEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = p.cache.Client().Publish(ctx, channelPresence, data).Err()
}
