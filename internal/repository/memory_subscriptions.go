package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
)

type subKey struct {
	recipient string
	tuple     models.Tuple
}

// MemorySubscriptionStore implements SubscriptionStore in process.
type MemorySubscriptionStore struct {
	mu  sync.RWMutex
	m   map[subKey]models.Subscription
	now func() time.Time
}

func NewMemorySubscriptionStore(seed ...models.Subscription) *MemorySubscriptionStore {
	s := &MemorySubscriptionStore{m: make(map[subKey]models.Subscription), now: time.Now}
	for _, sub := range seed {
		_ = s.Upsert(context.Background(), sub)
	}
	return s
}

func (s *MemorySubscriptionStore) Upsert(_ context.Context, sub models.Subscription) error {
	k := subKey{recipient: sub.RecipientID, tuple: models.Tuple{Pair: sub.Pair, Timeframe: sub.Timeframe}}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.m[k]; ok {
		sub.CreatedAt = prev.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	s.m[k] = sub
	return nil
}

func (s *MemorySubscriptionStore) Delete(_ context.Context, recipientID string, t models.Tuple) (bool, error) {
	k := subKey{recipient: recipientID, tuple: t}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; !ok {
		return false, nil
	}
	delete(s.m, k)
	return true, nil
}

// ListByTuple returns subscriptions ordered by creation time, oldest first.
func (s *MemorySubscriptionStore) ListByTuple(_ context.Context, t models.Tuple) ([]models.Subscription, error) {
	return s.filter(func(sub models.Subscription) bool {
		return sub.Pair == t.Pair && sub.Timeframe == t.Timeframe
	}, 0), nil
}

func (s *MemorySubscriptionStore) ListByRecipient(_ context.Context, recipientID string) ([]models.Subscription, error) {
	return s.filter(func(sub models.Subscription) bool { return sub.RecipientID == recipientID }, 0), nil
}

func (s *MemorySubscriptionStore) ListAll(_ context.Context, limit int) ([]models.Subscription, error) {
	return s.filter(func(models.Subscription) bool { return true }, limit), nil
}

func (s *MemorySubscriptionStore) filter(keep func(models.Subscription) bool, limit int) []models.Subscription {
	s.mu.RLock()
	out := make([]models.Subscription, 0)
	for _, sub := range s.m {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RecipientID < out[j].RecipientID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
