package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
	"FxAlert/pkg/cache"
)

type ackFixture struct {
	clk   *fakeClock
	resp  *fakeResponder
	sched *recordingScheduler
	reg   *IntentRegistry
	ack   *Acknowledger
}

func newAckFixture(t *testing.T, script ...error) *ackFixture {
	t.Helper()
	clk := newFakeClock()
	resp := &fakeResponder{clk: clk, script: script}
	reg := NewIntentRegistry(time.Hour, clk.Now)
	replies := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = replies.Close() })
	a := NewAcknowledger(DefaultAckConfig(), resp, reg, replies, nil, WithAckClock(clk.Now))
	sched := &recordingScheduler{}
	a.SetScheduler(sched)
	return &ackFixture{clk: clk, resp: resp, sched: sched, reg: reg, ack: a}
}

// interaction created age ago on the fixture clock.
func (f *ackFixture) interaction(id string, age time.Duration) models.InboundInteraction {
	in := models.NewInboundInteraction(id, "tok-"+id, f.clk.Now().Add(-age), "signal", map[string]string{"pair": "EURUSD"})
	in.ChannelID = "chan-1"
	return in
}

func TestAckSucceedsFirstTry(t *testing.T) {
	f := newAckFixture(t)
	out := f.ack.Handle(context.Background(), f.interaction("i-1", 0))

	assert.Equal(t, models.AckDeferred, out.State)
	assert.Equal(t, models.ClassSuccess, out.Class)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, f.resp.AckCalls())
	assert.Equal(t, 1, f.sched.Count())
}

func TestAckSkippedInsideSafetyMargin(t *testing.T) {
	f := newAckFixture(t)
	out := f.ack.Handle(context.Background(), f.interaction("i-late", 2600*time.Millisecond))

	assert.Equal(t, models.AckExpired, out.State)
	assert.Zero(t, f.resp.AckCalls())
	assert.Zero(t, f.sched.Count())
}

func TestAckConcurrentDuplicatesAckOnce(t *testing.T) {
	f := newAckFixture(t)
	in := f.interaction("i-dup", 0)

	const n = 50
	outs := make([]AckOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = f.ack.Handle(context.Background(), in)
		}(i)
	}
	wg.Wait()

	owners := 0
	for _, o := range outs {
		if !o.Duplicate {
			owners++
			assert.Equal(t, models.AckDeferred, o.State)
		}
	}
	assert.Equal(t, 1, owners)
	assert.Equal(t, 1, f.resp.AckCalls())
	assert.Equal(t, 1, f.sched.Count())
}

func TestAckDistributedClaimAcrossInstances(t *testing.T) {
	shared := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = shared.Close() })

	clk := newFakeClock()
	resp := &fakeResponder{clk: clk}
	build := func() *Acknowledger {
		replies := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
		t.Cleanup(func() { _ = replies.Close() })
		return NewAcknowledger(DefaultAckConfig(), resp, NewIntentRegistry(time.Hour, clk.Now), replies, nil,
			WithAckClock(clk.Now), WithDistributedClaim(shared))
	}
	a, b := build(), build()
	in := models.NewInboundInteraction("i-shared", "tok", clk.Now(), "help", nil)

	oa := a.Handle(context.Background(), in)
	ob := b.Handle(context.Background(), in)

	assert.Equal(t, 1, resp.AckCalls())
	assert.NotEqual(t, oa.Duplicate, ob.Duplicate)
}

func TestAckTransientThenSuccess(t *testing.T) {
	f := newAckFixture(t, errTransient, nil)
	out := f.ack.Handle(context.Background(), f.interaction("i-2", 0))

	assert.Equal(t, models.AckDeferred, out.State)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, f.resp.AckCalls())
}

func TestAckTransientRetriesExhausted(t *testing.T) {
	f := newAckFixture(t, errTransient)
	out := f.ack.Handle(context.Background(), f.interaction("i-3", 0))

	assert.Equal(t, models.AckExpired, out.State)
	assert.Equal(t, models.ClassTransient, out.Class)
	assert.Equal(t, DefaultAckConfig().MaxRetries+1, f.resp.AckCalls())
	assert.Zero(t, f.sched.Count())
}

func TestAckRetryLimitedByRemainingBudget(t *testing.T) {
	f := newAckFixture(t, errTransient)
	f.resp.latency = 1200 * time.Millisecond

	out := f.ack.Handle(context.Background(), f.interaction("i-4", 0))

	// 3000ms budget: after two 1200ms calls only 600ms remain, below
	// margin + min attempt once the 100ms backoff is taken.
	assert.Equal(t, models.AckExpired, out.State)
	assert.Equal(t, 2, f.resp.AckCalls())
}

func TestAckAlreadyAcknowledgedWithIntentIsDeferred(t *testing.T) {
	f := newAckFixture(t, errTransient, errAlready)
	out := f.ack.Handle(context.Background(), f.interaction("i-5", 0))

	assert.Equal(t, models.AckDeferred, out.State)
	assert.Equal(t, models.ClassAlreadyAcknowledged, out.Class)
	assert.False(t, out.Conflict)
	assert.Equal(t, 1, f.sched.Count())
}

func TestAckAlreadyAcknowledgedWithoutIntentIsConflict(t *testing.T) {
	f := newAckFixture(t, errAlready)
	out := f.ack.Handle(context.Background(), f.interaction("i-6", 0))

	assert.Equal(t, models.AckFailed, out.State)
	assert.True(t, out.Conflict)
	assert.Zero(t, f.sched.Count())
	assert.Empty(t, f.resp.Edits())
}

func TestAckUnknownInteractionExpires(t *testing.T) {
	f := newAckFixture(t, errUnknownIx)
	out := f.ack.Handle(context.Background(), f.interaction("i-7", 0))

	assert.Equal(t, models.AckExpired, out.State)
	assert.Equal(t, 1, f.resp.AckCalls())
}

func TestAckUnclassifiedErrorFails(t *testing.T) {
	f := newAckFixture(t, errors.New("boom"))
	out := f.ack.Handle(context.Background(), f.interaction("i-8", 0))

	assert.Equal(t, models.AckFailed, out.State)
	assert.Equal(t, models.ClassUnknown, out.Class)
	assert.Equal(t, 1, f.resp.AckCalls())
}

func TestAckIgnoresCallerCancellation(t *testing.T) {
	f := newAckFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.ack.Handle(ctx, f.interaction("i-9", 0))
	assert.Equal(t, models.AckDeferred, out.State)
}

func TestAckScheduleFailureRepliesUnavailable(t *testing.T) {
	f := newAckFixture(t)
	f.sched.err = errors.New("queue down")

	out := f.ack.Handle(context.Background(), f.interaction("i-10", 0))

	require.Equal(t, models.AckDeferred, out.State)
	assert.Equal(t, []string{models.UserMessage(models.UserMsgUnavailable)}, f.resp.Edits())
	st, _ := f.reg.State("i-10")
	assert.Equal(t, models.AckReplied, st)
}

func TestReplyAtMostOnce(t *testing.T) {
	f := newAckFixture(t)
	in := f.interaction("i-11", 0)
	require.Equal(t, models.AckDeferred, f.ack.Handle(context.Background(), in).State)

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.ack.Reply(context.Background(), in, "done")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, models.ErrAlreadyReplied)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, []string{"done"}, f.resp.Edits())
}

func TestReplyRequiresDeferred(t *testing.T) {
	f := newAckFixture(t, errAlready)
	in := f.interaction("i-12", 0)
	f.ack.Handle(context.Background(), in)

	err := f.ack.Reply(context.Background(), in, "x")
	assert.ErrorIs(t, err, models.ErrNotDeferred)
	assert.Empty(t, f.resp.Edits())
}

func TestReplyAfterFollowUpWindow(t *testing.T) {
	f := newAckFixture(t)
	in := f.interaction("i-13", 0)
	f.ack.Handle(context.Background(), in)
	f.clk.Advance(16 * time.Minute)

	assert.ErrorIs(t, f.ack.Reply(context.Background(), in, "late"), models.ErrReplyWindow)
}

func TestReplyEditFailureReleasesGuard(t *testing.T) {
	f := newAckFixture(t)
	in := f.interaction("i-14", 0)
	f.ack.Handle(context.Background(), in)
	f.resp.editErrs = []error{errTransient}

	require.Error(t, f.ack.Reply(context.Background(), in, "first"))
	require.NoError(t, f.ack.Reply(context.Background(), in, "second"))
	assert.Equal(t, []string{"second"}, f.resp.Edits())
}
