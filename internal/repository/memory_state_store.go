package repository

import (
	"context"
	"sort"
	"sync"

	"FxAlert/internal/domain/models"
)

// MemoryStateStore implements SignalStateStore in process.
type MemoryStateStore struct {
	mu sync.RWMutex
	m  map[models.Tuple]models.SignalState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{m: make(map[models.Tuple]models.SignalState)}
}

func (s *MemoryStateStore) Get(_ context.Context, t models.Tuple) (models.SignalState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[t]
	return st, ok, nil
}

func (s *MemoryStateStore) CompareAndSwap(_ context.Context, next models.SignalState, expected int64) (models.SignalState, error) {
	t := next.Tuple()
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if st, ok := s.m[t]; ok {
		current = st.Version
	}
	if current != expected {
		return models.SignalState{}, models.ErrStateConflict
	}
	next.Version = expected + 1
	s.m[t] = next
	return next, nil
}

func (s *MemoryStateStore) List(_ context.Context) ([]models.SignalState, error) {
	s.mu.RLock()
	out := make([]models.SignalState, 0, len(s.m))
	for _, st := range s.m {
		out = append(out, st)
	}
	s.mu.RUnlock()
	sortStates(out)
	return out, nil
}

func sortStates(states []models.SignalState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Pair != states[j].Pair {
			return states[i].Pair < states[j].Pair
		}
		return states[i].Timeframe < states[j].Timeframe
	})
}
