package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
)

// intent is the local record of what this process did for one interaction.
type intent struct {
	state     models.AckState
	attempts  int
	claimedAt time.Time
}

// IntentRegistry records, per interaction id, that this process claimed it
// and how many ack calls it has started. It is the local evidence used to
// interpret an AlreadyAcknowledged answer.
type IntentRegistry struct {
	mu  sync.Mutex
	m   map[string]*intent
	ttl time.Duration
	now func() time.Time
}

func NewIntentRegistry(ttl time.Duration, now func() time.Time) *IntentRegistry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &IntentRegistry{m: make(map[string]*intent), ttl: ttl, now: now}
}

// Claim returns true for the first caller of id; later callers get false.
func (r *IntentRegistry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; ok {
		return false
	}
	r.m[id] = &intent{state: models.AckPending, claimedAt: r.now()}
	return true
}

// BeginAttempt records that an ack call is about to be issued and returns
// its 1-based sequence number.
func (r *IntentRegistry) BeginAttempt(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.m[id]
	if !ok {
		it = &intent{state: models.AckPending, claimedAt: r.now()}
		r.m[id] = it
	}
	it.attempts++
	return it.attempts
}

// IssuedBefore reports whether an ack call for id was started before attempt n.
func (r *IntentRegistry) IssuedBefore(id string, n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.m[id]
	return ok && n > 1 && it.attempts >= n-1
}

// Attempts returns the number of ack calls started for id.
func (r *IntentRegistry) Attempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.m[id]; ok {
		return it.attempts
	}
	return 0
}

// Transition moves id to state to, rejecting non-monotonic moves.
func (r *IntentRegistry) Transition(id string, to models.AckState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.m[id]
	if !ok {
		return fmt.Errorf("interaction %s: %w", id, models.ErrNotFound)
	}
	if !it.state.CanTransition(to) {
		return fmt.Errorf("interaction %s: %s -> %s: %w", id, it.state, to, models.ErrStateConflict)
	}
	it.state = to
	return nil
}

// State returns the recorded state of id.
func (r *IntentRegistry) State(id string) (models.AckState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.m[id]; ok {
		return it.state, true
	}
	return models.AckPending, false
}

func (r *IntentRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Sweep forgets interactions claimed longer than ttl ago.
func (r *IntentRegistry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, it := range r.m {
		if it.claimedAt.Before(cutoff) {
			delete(r.m, id)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *IntentRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}
