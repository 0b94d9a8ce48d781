package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc := NewRedisCacheFromClient(client, "test")
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRedisCheckAndSet(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	ok, err := rc.CheckAndSet(ctx, "reply:i-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("test:reply:i-1"))

	ok, err = rc.CheckAndSet(ctx, "reply:i-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	ok, err = rc.CheckAndSet(ctx, "reply:i-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCheckAndSetConcurrent(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := rc.CheckAndSet(ctx, "k", time.Minute); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisReleaseAndGet(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()

	_, _ = rc.CheckAndSet(ctx, "k", time.Minute)
	require.NoError(t, rc.Release(ctx, "k"))
	exists, err := rc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, rc.Set(ctx, "s", "value", time.Minute))
	var s string
	require.NoError(t, rc.Get(ctx, "s", &s))
	assert.Equal(t, "value", s)
	assert.ErrorIs(t, rc.Get(ctx, "missing", &s), ErrCacheMiss)
}
