package hotkv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "execution:t1:e1", []byte(`{"status":"running"}`), time.Hour))

	got, err := s.Get(ctx, "execution:t1:e1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running"}`, string(got))

	require.NoError(t, s.Delete(ctx, "execution:t1:e1"))
	_, err = s.Get(ctx, "execution:t1:e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:t1:s1", []byte("v"), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "session:t1:s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreKeysPrefix(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "execution:t1:e1", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "execution:t1:e2", []byte("b"), 0))
	require.NoError(t, s.Set(ctx, "execution:t2:e9", []byte("c"), 0))

	keys, err := s.Keys(ctx, "execution:t1:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"execution:t1:e1", "execution:t1:e2"}, keys)
}

func TestRedisStoreMissesDoNotTripBreaker(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	// A run of cache misses is routine on first-time submissions and must
	// leave the breaker closed.
	for i := 0; i < 10; i++ {
		_, err := s.Get(ctx, "idem:t1:ingest-file:never-seen")
		require.ErrorIs(t, err, ErrNotFound)
	}

	require.NoError(t, s.Set(ctx, "execution:t1:e1", []byte("v"), time.Hour))
	got, err := s.Get(ctx, "execution:t1:e1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestRedisStoreBreakerOpensWhenBackendGone(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	mr.Close()

	// Drive the breaker past its failure threshold.
	var lastErr error
	for i := 0; i < 7; i++ {
		lastErr = s.Ping(ctx)
		require.Error(t, lastErr)
	}
	assert.Contains(t, lastErr.Error(), "circuit open")
}

func TestRedisStorePing(t *testing.T) {
	s, _ := newTestRedis(t)
	assert.NoError(t, s.Ping(context.Background()))
}
