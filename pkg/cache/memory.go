package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryItem stores cached value with expiration.
type MemoryItem struct {
	Value    []byte
	ExpireAt time.Time
}

func (m *MemoryItem) expired(now time.Time) bool {
	return !m.ExpireAt.IsZero() && !now.Before(m.ExpireAt)
}

// MemoryCache implements Service with a mutex-guarded map.
// Expired keys are swept inline every SweepEvery inserts and by an optional
// background ticker; reads ignore expired keys either way.
type MemoryCache struct {
	mu          sync.Mutex
	data        map[string]*MemoryItem
	now         func() time.Time
	sweepEvery  int
	sinceSweep  int
	stop        chan struct{}
	stopOnce    sync.Once
	cleanupDone chan struct{}
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		SweepEvery:      128,
		CleanupInterval: time.Minute,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:       make(map[string]*MemoryItem),
		now:        cfg.Now,
		sweepEvery: cfg.SweepEvery,
		stop:       make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		mc.cleanupDone = make(chan struct{})
		go mc.cleanupExpired(cfg.CleanupInterval)
	}
	return mc
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}

func (mc *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return mc.now().Add(ttl)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.insertLocked(key, data, expiration)
	return nil
}

func (mc *MemoryCache) insertLocked(key string, data []byte, ttl time.Duration) {
	mc.data[key] = &MemoryItem{Value: data, ExpireAt: mc.expiry(ttl)}
	mc.sinceSweep++
	if mc.sweepEvery > 0 && mc.sinceSweep >= mc.sweepEvery {
		mc.sweepLocked()
	}
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.data[key]
	if ok && item.expired(mc.now()) {
		delete(mc.data, key)
		ok = false
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(item.Value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	for _, key := range keys {
		if item, ok := mc.data[key]; ok && !item.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// CheckAndSet inserts key with ttl unless a live entry exists.
// It returns true when the caller won the key.
func (mc *MemoryCache) CheckAndSet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if item, ok := mc.data[key]; ok && !item.expired(mc.now()) {
		return false, nil
	}
	mc.insertLocked(key, []byte("1"), ttl)
	return true, nil
}

// Release frees key so a later CheckAndSet can win it again.
func (mc *MemoryCache) Release(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) Ping(context.Context) error { return nil }

// Len returns the number of stored keys, expired ones included until swept.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

// Sweep drops expired keys and returns how many were removed.
func (mc *MemoryCache) Sweep() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.sweepLocked()
}

func (mc *MemoryCache) sweepLocked() int {
	now := mc.now()
	n := 0
	for key, item := range mc.data {
		if item.expired(now) {
			delete(mc.data, key)
			n++
		}
	}
	mc.sinceSweep = 0
	return n
}

func (mc *MemoryCache) cleanupExpired(interval time.Duration) {
	defer close(mc.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mc.Sweep()
		case <-mc.stop:
			return
		}
	}
}

// Close stops the background sweep.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() {
		close(mc.stop)
		if mc.cleanupDone != nil {
			<-mc.cleanupDone
		}
	})
	return nil
}
