package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"sessiond/cmd/internal/clock"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func stores(t *testing.T) map[string]Store {
	_, rdb := newTestRedis(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(rdb, ""),
	}
}

func TestStore_AddKeepsLaterExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Add(ctx, "jti-1", now.Add(10*time.Minute)))
			// An earlier expiry must not shorten the entry.
			require.NoError(t, st.Add(ctx, "jti-1", now.Add(time.Minute)))

			ok, err := st.Contains(ctx, "jti-1", now.Add(5*time.Minute))
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, st.Add(ctx, "jti-1", now.Add(20*time.Minute)))
			ok, err = st.Contains(ctx, "jti-1", now.Add(15*time.Minute))
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = st.Contains(ctx, "jti-1", now.Add(21*time.Minute))
			require.NoError(t, err)
			require.False(t, ok, "entry must be irrelevant after its expiry")
		})
	}
}

func TestStore_UnknownAndInvalid(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := st.Contains(ctx, "missing", now)
			require.NoError(t, err)
			require.False(t, ok)

			require.ErrorIs(t, st.Add(ctx, "  ", now.Add(time.Minute)), ErrInvalidJTI)
		})
	}
}

func TestMemory_Reap(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	m := NewMemory()

	require.NoError(t, m.Add(ctx, "old", now.Add(-time.Minute)))
	require.NoError(t, m.Add(ctx, "edge", now))
	require.NoError(t, m.Add(ctx, "live", now.Add(time.Minute)))

	n, err := m.Reap(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 1, m.Len())
}

func TestRedis_NativeTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	st := NewRedis(rdb, "test:bl:")

	now := time.Now()
	require.NoError(t, st.Add(ctx, "jti-ttl", now.Add(2*time.Minute)))
	require.True(t, mr.Exists("test:bl:jti-ttl"))
	require.Greater(t, mr.TTL("test:bl:jti-ttl"), time.Duration(0))

	mr.FastForward(3 * time.Minute)
	require.False(t, mr.Exists("test:bl:jti-ttl"))

	n, err := st.Reap(ctx, now)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRedis_SkipsAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	st := NewRedis(rdb, "")

	require.NoError(t, st.Add(ctx, "stale", time.Now().Add(-time.Second)))
	require.False(t, mr.Exists(DefaultRedisPrefix+"stale"))
}

func TestRedis_ExpiryFollowsInjectedClock(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)

	wall := time.Now()
	st := NewRedis(rdb, "", WithRedisClock(clock.NewManual(wall.Add(time.Hour))))

	require.NoError(t, st.Add(ctx, "past-for-clock", wall.Add(10*time.Minute)))
	require.False(t, mr.Exists(DefaultRedisPrefix+"past-for-clock"), "entry expired by the injected clock must be skipped")

	require.NoError(t, st.Add(ctx, "live", wall.Add(2*time.Hour)))
	require.True(t, mr.Exists(DefaultRedisPrefix+"live"))
}
