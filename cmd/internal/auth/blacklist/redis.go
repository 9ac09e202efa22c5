package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sessiond/cmd/internal/clock"
)

// DefaultRedisPrefix namespaces blacklist keys.
const DefaultRedisPrefix = "sessiond:blacklist:"

// The value is the expiry in unix milliseconds; the key carries a matching
// PEXPIREAT so Redis drops it on its own.
const addScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local exp = tonumber(ARGV[1])
if exp <= cur then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PEXPIREAT', KEYS[1], exp)
return 1
`

var addLua = redis.NewScript(addScript)

// Redis stores entries as expiring keys.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisClock sets the clock Add uses to drop already expired entries.
func WithRedisClock(c clock.Clock) RedisOption {
	return func(r *Redis) { r.clock = clock.OrSystem(c) }
}

// NewRedis returns a Redis-backed Store. An empty prefix selects DefaultRedisPrefix.
func NewRedis(rdb redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	r := &Redis{rdb: rdb, prefix: prefix, clock: clock.System{}}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) key(jti string) string { return r.prefix + jti }

func (r *Redis) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	jti, err := normalizeJTI(jti)
	if err != nil {
		return err
	}
	// Already expired entries would be dropped by Redis immediately.
	if !expiresAt.After(r.clock.Now()) {
		return nil
	}
	if err := addLua.Run(ctx, r.rdb, []string{r.key(jti)}, expiresAt.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("blacklist: redis add: %w", err)
	}
	return nil
}

func (r *Redis) Contains(ctx context.Context, jti string, now time.Time) (bool, error) {
	if jti == "" {
		return false, nil
	}
	raw, err := r.rdb.Get(ctx, r.key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blacklist: redis contains: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("blacklist: redis value for %q: %w", jti, err)
	}
	return time.UnixMilli(ms).After(now), nil
}

// Reap is a no-op: Redis expires keys natively.
func (r *Redis) Reap(context.Context, time.Time) (int64, error) { return 0, nil }
