package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPresenceTTL = 60 * time.Second

// RedisMirror is a PresenceMirror backed by Redis.
//
// Keys:
//   - presence:online:<user> = "1", TTL-bound; present iff the user is online
//     on this gateway. TTL expiry covers a crashed process: stale online
//     flags disappear on their own.
//   - presence:lastseen:<user> = RFC3339 timestamp, no TTL.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// RedisMirrorOption configures RedisMirror behavior.
type RedisMirrorOption func(*RedisMirror) error

// WithPresenceTTL sets the online-flag TTL (default 60s).
func WithPresenceTTL(ttl time.Duration) RedisMirrorOption {
	return func(m *RedisMirror) error {
		if ttl <= 0 {
			return errors.New("realtime: non-positive presence ttl")
		}
		m.ttl = ttl
		return nil
	}
}

// NewRedisMirror constructs a Redis-backed PresenceMirror.
func NewRedisMirror(rdb *redis.Client, opts ...RedisMirrorOption) (*RedisMirror, error) {
	m := &RedisMirror{rdb: rdb, ttl: defaultPresenceTTL}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	return m, nil
}

// TTL returns the configured online-flag TTL; the refresh loop should run at
// a fraction of it.
func (m *RedisMirror) TTL() time.Duration { return m.ttl }

func onlineKey(userID string) string   { return "presence:online:" + userID }
func lastSeenKey(userID string) string { return "presence:lastseen:" + userID }

// SetOnline marks the user online and stamps last-seen.
func (m *RedisMirror) SetOnline(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, onlineKey(userID), "1", m.ttl)
	pipe.Set(ctx, lastSeenKey(userID), time.Now().UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline clears the online flag and records last-seen.
func (m *RedisMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	if userID == "" {
		return nil
	}
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	pipe := m.rdb.Pipeline()
	pipe.Del(ctx, onlineKey(userID))
	pipe.Set(ctx, lastSeenKey(userID), lastSeen.UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh renews the online TTL for every given user in one pipeline.
func (m *RedisMirror) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := m.rdb.Pipeline()
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		pipe.Set(ctx, onlineKey(uid), "1", m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LastSeen returns the recorded last-seen time, zero if unknown.
func (m *RedisMirror) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	raw, err := m.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}
