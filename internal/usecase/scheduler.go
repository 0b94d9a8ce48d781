package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
	"FxAlert/pkg/logger"
	"FxAlert/pkg/queue"
)

// CommandJobType is the queue message type for deferred commands.
const CommandJobType = "interaction.command"

var ErrSchedulerClosed = errors.New("command scheduler closed")

// Replier sends the final reply of a deferred interaction.
type Replier interface {
	Reply(ctx context.Context, in models.InboundInteraction, content string) error
}

// runCommand executes in and delivers its reply. Replies that are no longer
// possible are not errors: retrying them cannot succeed.
func runCommand(ctx context.Context, router *CommandRouter, replier Replier, in models.InboundInteraction, l *logger.Logger) error {
	content := router.Respond(ctx, in)
	err := replier.Reply(ctx, in, content)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrAlreadyReplied), errors.Is(err, models.ErrReplyWindow), errors.Is(err, models.ErrNotDeferred):
		l.Warn("final reply skipped", logger.Interaction(in.ID), logger.Error(err))
		return nil
	default:
		return err
	}
}

// AsyncScheduler runs commands on in-process goroutines, at most Workers at a time.
type AsyncScheduler struct {
	router  *CommandRouter
	replier Replier
	timeout time.Duration
	sem     chan struct{}
	log     *logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ CommandScheduler = (*AsyncScheduler)(nil)

func NewAsyncScheduler(router *CommandRouter, replier Replier, workers int, timeout time.Duration, l *logger.Logger) *AsyncScheduler {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	return &AsyncScheduler{router: router, replier: replier, timeout: timeout, sem: make(chan struct{}, workers), log: l}
}

func (s *AsyncScheduler) Schedule(ctx context.Context, in models.InboundInteraction) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := runCommand(rctx, s.router, s.replier, in, s.log); err != nil {
			s.log.Error("command reply failed", logger.Interaction(in.ID), logger.Error(err))
		}
	}()
	return nil
}

// Close rejects new commands and waits for running ones or ctx.
func (s *AsyncScheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueScheduler hands commands to a Redis queue so any worker process can
// reply. Messages expire with the interaction's follow-up window.
type QueueScheduler struct {
	q        queue.Publisher
	followUp time.Duration
}

var _ CommandScheduler = (*QueueScheduler)(nil)

func NewQueueScheduler(q queue.Publisher, followUp time.Duration) *QueueScheduler {
	return &QueueScheduler{q: q, followUp: followUp}
}

func (s *QueueScheduler) Schedule(ctx context.Context, in models.InboundInteraction) error {
	opts := []queue.PublishOption{queue.WithMessageID(in.ID)}
	if s.followUp > 0 && !in.CreatedAt.IsZero() {
		opts = append(opts, queue.ExpiresAt(in.CreatedAt.Add(s.followUp)))
	}
	if err := s.q.Publish(ctx, CommandJobType, in, opts...); err != nil {
		return fmt.Errorf("enqueue command %s: %w", in.ID, err)
	}
	return nil
}

// CommandJob is the queue job executing deferred commands.
type CommandJob struct {
	router  *CommandRouter
	replier Replier
	timeout time.Duration
	log     *logger.Logger
}

var _ queue.Job = (*CommandJob)(nil)

func NewCommandJob(router *CommandRouter, replier Replier, timeout time.Duration, l *logger.Logger) *CommandJob {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	return &CommandJob{router: router, replier: replier, timeout: timeout, log: l}
}

func (j *CommandJob) Name() string { return "interaction-command" }
func (j *CommandJob) Type() string { return CommandJobType }

func (j *CommandJob) Handle(ctx context.Context, payload interface{}) error {
	in, err := queue.ParsePayload[models.InboundInteraction](payload)
	if err != nil {
		return queue.Permanent(fmt.Errorf("command payload: %w", err))
	}
	rctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return runCommand(rctx, j.router, j.replier, *in, j.log)
}
