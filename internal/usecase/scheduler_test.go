package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
	"FxAlert/internal/repository"
	"FxAlert/pkg/queue"
)

type recordingReplier struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
}

func (r *recordingReplier) Reply(_ context.Context, in models.InboundInteraction, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.replies == nil {
		r.replies = make(map[string]string)
	}
	r.replies[in.ID] = content
	return nil
}

func (r *recordingReplier) Get(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.replies[id]
	return v, ok
}

func TestAsyncSchedulerRepliesAndDrains(t *testing.T) {
	router := NewCommandRouter(repository.NewMemoryStateStore(), repository.NewMemorySubscriptionStore(), nil)
	rep := &recordingReplier{}
	s := NewAsyncScheduler(router, rep, 2, time.Second, nil)

	for _, id := range []string{"a", "b", "c"} {
		in := command("help", nil)
		in.ID = id
		require.NoError(t, s.Schedule(context.Background(), in))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	for _, id := range []string{"a", "b", "c"} {
		out, ok := rep.Get(id)
		assert.True(t, ok, id)
		assert.Contains(t, out, "Available commands")
	}
	assert.ErrorIs(t, s.Schedule(context.Background(), command("help", nil)), ErrSchedulerClosed)
}

type capturingQueue struct {
	msgType string
	payload interface{}
	msg     queue.Message
}

func (q *capturingQueue) Publish(_ context.Context, msgType string, payload interface{}, opts ...queue.PublishOption) error {
	q.msgType = msgType
	q.payload = payload
	for _, opt := range opts {
		opt(&q.msg)
	}
	return nil
}

func TestQueueSchedulerRoundTrip(t *testing.T) {
	q := &capturingQueue{}
	in := command("unsubscribe", map[string]string{"pair": "EURUSD"})
	require.NoError(t, NewQueueScheduler(q, 15*time.Minute).Schedule(context.Background(), in))
	assert.Equal(t, CommandJobType, q.msgType)
	assert.Equal(t, in.ID, q.msg.ID)
	assert.Equal(t, in.CreatedAt.Add(15*time.Minute), q.msg.ExpiresAt)

	// the worker sees the payload after a JSON hop
	raw, err := json.Marshal(q.payload)
	require.NoError(t, err)

	router := NewCommandRouter(repository.NewMemoryStateStore(), repository.NewMemorySubscriptionStore(), nil)
	rep := &recordingReplier{}
	job := NewCommandJob(router, rep, time.Second, nil)
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))

	out, ok := rep.Get(in.ID)
	require.True(t, ok)
	assert.Contains(t, out, "not subscribed")
}

func TestCommandJobTreatsDoneRepliesAsHandled(t *testing.T) {
	router := NewCommandRouter(repository.NewMemoryStateStore(), repository.NewMemorySubscriptionStore(), nil)
	in := command("help", nil)
	raw, _ := json.Marshal(in)

	rep := &recordingReplier{err: models.ErrAlreadyReplied}
	assert.NoError(t, NewCommandJob(router, rep, time.Second, nil).Handle(context.Background(), json.RawMessage(raw)))

	rep.err = errors.New("platform 503")
	assert.Error(t, NewCommandJob(router, rep, time.Second, nil).Handle(context.Background(), json.RawMessage(raw)))
}
