package repository

import (
	"context"
	"sort"
	"sync"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
)

const defaultEventLogCapacity = 10000

// MemoryEventLog keeps the newest events in process, dropping the oldest
// once capacity is reached.
type MemoryEventLog struct {
	mu       sync.RWMutex
	events   []models.SignalEvent
	notified map[string][]string
	capacity int
}

func NewMemoryEventLog(capacity int) *MemoryEventLog {
	if capacity <= 0 {
		capacity = defaultEventLogCapacity
	}
	return &MemoryEventLog{notified: make(map[string][]string), capacity: capacity}
}

func (l *MemoryEventLog) Record(_ context.Context, ev models.SignalEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if over := len(l.events) - l.capacity; over > 0 {
		for _, old := range l.events[:over] {
			delete(l.notified, old.ID)
		}
		l.events = append(l.events[:0], l.events[over:]...)
	}
	return nil
}

// MarkNotified appends recipients to the event, ignoring ones already recorded.
func (l *MemoryEventLog) MarkNotified(_ context.Context, eventID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]struct{}, len(l.notified[eventID]))
	for _, id := range l.notified[eventID] {
		seen[id] = struct{}{}
	}
	for _, id := range recipientIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		l.notified[eventID] = append(l.notified[eventID], id)
	}
	return nil
}

// History returns matching events newest first.
func (l *MemoryEventLog) History(_ context.Context, q domrepo.HistoryQuery) ([]models.SignalEvent, error) {
	l.mu.RLock()
	out := make([]models.SignalEvent, 0)
	for _, ev := range l.events {
		if q.Pair != "" && ev.Pair != q.Pair {
			continue
		}
		if q.Timeframe != "" && ev.Timeframe != q.Timeframe {
			continue
		}
		if !q.From.IsZero() && ev.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && ev.CreatedAt.After(q.To) {
			continue
		}
		if ids := l.notified[ev.ID]; len(ids) > 0 {
			ev.NotifiedRecipientIDs = append([]string(nil), ids...)
		}
		out = append(out, ev)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
