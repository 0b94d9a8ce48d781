package repository

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

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return mr, cli
}

func stateStores(t *testing.T) map[string]domrepo.SignalStateStore {
	_, cli := newRedisClient(t)
	return map[string]domrepo.SignalStateStore{
		"memory": NewMemoryStateStore(),
		"redis":  NewRedisStateStore(cli, "test"),
	}
}

func TestStateStore_CompareAndSwap(t *testing.T) {
	eurusd := models.Tuple{Pair: "EUR/USD", Timeframe: models.TF1h}
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, eurusd)
			require.NoError(t, err)
			assert.False(t, ok)

			now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			first, err := store.CompareAndSwap(ctx, models.SignalState{
				Pair: eurusd.Pair, Timeframe: eurusd.Timeframe,
				CurrentSignal: models.SignalBuy, LastChangedAt: now,
			}, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), first.Version)

			// stale writer loses
			_, err = store.CompareAndSwap(ctx, models.SignalState{
				Pair: eurusd.Pair, Timeframe: eurusd.Timeframe, CurrentSignal: models.SignalSell,
			}, 0)
			assert.ErrorIs(t, err, models.ErrStateConflict)

			second, err := store.CompareAndSwap(ctx, models.SignalState{
				Pair: eurusd.Pair, Timeframe: eurusd.Timeframe,
				CurrentSignal: models.SignalSell, LastChangedAt: now.Add(time.Hour),
			}, first.Version)
			require.NoError(t, err)
			assert.Equal(t, int64(2), second.Version)

			got, ok, err := store.Get(ctx, eurusd)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, models.SignalSell, got.CurrentSignal)
			assert.Equal(t, int64(2), got.Version)
			assert.True(t, got.LastChangedAt.Equal(now.Add(time.Hour)))
		})
	}
}

func TestStateStore_ListSorted(t *testing.T) {
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, tu := range []models.Tuple{
				{Pair: "USD/JPY", Timeframe: models.TF1h},
				{Pair: "EUR/USD", Timeframe: models.TF4h},
				{Pair: "EUR/USD", Timeframe: models.TF1h},
			} {
				_, err := store.CompareAndSwap(ctx, models.SignalState{Pair: tu.Pair, Timeframe: tu.Timeframe, CurrentSignal: models.SignalHold}, 0)
				require.NoError(t, err)
			}
			all, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "EUR/USD", all[0].Pair)
			assert.Equal(t, models.TF1h, all[0].Timeframe)
			assert.Equal(t, "USD/JPY", all[2].Pair)
		})
	}
}

func TestStateStore_ConcurrentWritersOneWins(t *testing.T) {
	tu := models.Tuple{Pair: "GBP/USD", Timeframe: models.TF15m}
	for name, store := range stateStores(t) {
		t.Run(name, func(t *testing.T) {
			var wins int64
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.CompareAndSwap(context.Background(), models.SignalState{
						Pair: tu.Pair, Timeframe: tu.Timeframe, CurrentSignal: models.SignalBuy,
					}, 0)
					if err == nil {
						atomic.AddInt64(&wins, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int64(1), wins)
		})
	}
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	_, cli := newRedisClient(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRedisRateLimiter(cli, "test").WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "r1", 3, time.Hour)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "r1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "r2", 3, time.Hour)
	assert.True(t, ok)

	now = now.Add(time.Hour)
	ok, _ = rl.Allow(ctx, "r1", 3, time.Hour)
	assert.True(t, ok)
}

func TestRedisRateLimiter_ConcurrentNeverExceedsMax(t *testing.T) {
	_, cli := newRedisClient(t)
	rl := NewRedisRateLimiter(cli, "test")
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := rl.Allow(context.Background(), "shared", 7, time.Hour); err == nil && ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(7), allowed)
}
