package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the sliding log of one recipient, oldest first.
type window struct {
	hits []time.Time
}

// prune drops hits at or before cutoff.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Limiter is an in-process sliding-log limiter keyed by recipient.
// Prune, check and record happen under one lock so concurrent callers
// never admit more than max hits per window.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*window
	now func() time.Time
}

type Option func(*Limiter)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{m: make(map[string]*window), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a hit for key and returns true if fewer than max hits
// happened within the trailing window. Rejected calls are not recorded.
func (l *Limiter) Allow(_ context.Context, key string, max int, win time.Duration) (bool, error) {
	if max <= 0 {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	w, ok := l.m[key]
	if !ok {
		w = &window{}
		l.m[key] = w
	}
	w.prune(now.Add(-win))
	if len(w.hits) >= max {
		return false, nil
	}
	w.hits = append(w.hits, now)
	return true, nil
}

// Count returns the hits of key still inside win.
func (l *Limiter) Count(key string, win time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.m[key]
	if !ok {
		return 0
	}
	w.prune(l.now().Add(-win))
	return len(w.hits)
}

// Evict drops recipients whose newest hit is older than win.
func (l *Limiter) Evict(win time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-win)
	n := 0
	for key, w := range l.m {
		if len(w.hits) == 0 || !w.hits[len(w.hits)-1].After(cutoff) {
			delete(l.m, key)
			n++
		}
	}
	return n
}

// RunEvictor calls Evict every interval until ctx is done.
func (l *Limiter) RunEvictor(ctx context.Context, interval, win time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Evict(win)
		}
	}
}
