package presence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMirrorPrefix = "parley:presence:"
	defaultMirrorTTL    = 2 * time.Minute
)

// RedisMirror publishes live connection ids to Redis under parley:presence:<user>.
// The TTL bounds how long a crashed process leaves users looking online.
type RedisMirror struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisMirror wraps rdb. A non-positive ttl falls back to two minutes.
func NewRedisMirror(rdb redis.UniversalClient, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{rdb: rdb, prefix: defaultMirrorPrefix, ttl: ttl}
}

func (m *RedisMirror) key(username string) string { return m.prefix + username }

// Publish sets or clears the user's key and renews its TTL.
func (m *RedisMirror) Publish(ctx context.Context, username string, live []string) error {
	if len(live) == 0 {
		return m.rdb.Del(ctx, m.key(username)).Err()
	}
	return m.rdb.Set(ctx, m.key(username), strings.Join(live, ","), m.ttl).Err()
}

// Lookup returns the mirrored connection ids for username, or nil when offline.
func (m *RedisMirror) Lookup(ctx context.Context, username string) ([]string, error) {
	val, err := m.rdb.Get(ctx, m.key(username)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(val, ","), nil
}
