package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/pkg/logger"
)

// CommandScheduler runs the command of an acknowledged interaction off the
// acknowledgment path. The final reply goes through Acknowledger.Reply.
type CommandScheduler interface {
	Schedule(ctx context.Context, in models.InboundInteraction) error
}

type AckConfig struct {
	SafetyMargin   time.Duration
	MinAttempt     time.Duration
	MaxRetries     int
	Backoffs       []time.Duration
	FollowUpWindow time.Duration
	ClaimTTL       time.Duration
}

// DefaultAckConfig returns the platform defaults: 500ms margin, 100ms minimum
// attempt, three retries at 50/100/150ms and a 15 minute follow-up window.
func DefaultAckConfig() AckConfig {
	return AckConfig{
		SafetyMargin:   500 * time.Millisecond,
		MinAttempt:     100 * time.Millisecond,
		MaxRetries:     3,
		Backoffs:       []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond},
		FollowUpWindow: 15 * time.Minute,
		ClaimTTL:       15 * time.Minute,
	}
}

func (c AckConfig) backoff(retry int) time.Duration {
	if len(c.Backoffs) == 0 {
		return time.Duration(retry) * 50 * time.Millisecond
	}
	if retry > len(c.Backoffs) {
		return c.Backoffs[len(c.Backoffs)-1]
	}
	return c.Backoffs[retry-1]
}

// AckOutcome reports what Handle did with one delivery.
type AckOutcome struct {
	State     models.AckState
	Class     models.ErrorClass
	Attempts  int
	Duplicate bool // delivery was already claimed; nothing was sent
	Conflict  bool // AlreadyAcknowledged without local intent
}

// Acknowledger sends exactly one deferred acknowledgment per interaction
// within its deadline, or determines that none can be sent.
type Acknowledger struct {
	cfg       AckConfig
	responder domrepo.InteractionResponder
	intents   *IntentRegistry
	claims    domrepo.DedupStore
	replies   domrepo.DedupStore
	scheduler CommandScheduler
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time
}

type AckOption func(*Acknowledger)

// WithDistributedClaim also claims ids in a shared store so that only one
// instance acknowledges when several read the same gateway.
func WithDistributedClaim(store domrepo.DedupStore) AckOption {
	return func(a *Acknowledger) { a.claims = store }
}

func WithAckClock(now func() time.Time) AckOption {
	return func(a *Acknowledger) { a.now = now }
}

func WithAckMetrics(m domrepo.Metrics) AckOption {
	return func(a *Acknowledger) { a.metrics = m }
}

// NewAcknowledger builds an acknowledger. replies guards the final reply and
// must be shared with every process that may call Reply.
func NewAcknowledger(cfg AckConfig, responder domrepo.InteractionResponder, intents *IntentRegistry,
	replies domrepo.DedupStore, l *logger.Logger, opts ...AckOption) *Acknowledger {
	if l == nil {
		l = logger.Nop()
	}
	a := &Acknowledger{
		cfg:       cfg,
		responder: responder,
		intents:   intents,
		replies:   replies,
		log:       l,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetScheduler wires the command scheduler; schedulers need the acknowledger
// for replies, so this breaks the construction cycle.
func (a *Acknowledger) SetScheduler(s CommandScheduler) { a.scheduler = s }

func (a *Acknowledger) claim(ctx context.Context, in models.InboundInteraction) bool {
	if !a.intents.Claim(in.ID) {
		return false
	}
	if a.claims == nil {
		return true
	}
	won, err := a.claims.CheckAndSet(ctx, "claim:"+in.ID, a.cfg.ClaimTTL)
	if err != nil {
		// local claim still prevents in-process double acks
		a.log.Warn("distributed claim unavailable", logger.Interaction(in.ID), logger.Error(err))
		return true
	}
	return won
}

// Handle runs the acknowledgment state machine for in. It is detached from
// the caller's cancellation and bounded only by the interaction deadline.
func (a *Acknowledger) Handle(parent context.Context, in models.InboundInteraction) AckOutcome {
	if a.metrics != nil {
		a.metrics.AckStarted()
		defer a.metrics.AckFinished()
	}
	ctx, cancel := context.WithDeadline(context.WithoutCancel(parent), in.Deadline)
	defer cancel()

	il := a.log.With(logger.Interaction(in.ID), logger.String("command", in.CommandName))

	if !a.claim(ctx, in) {
		il.Debug("duplicate interaction delivery ignored")
		st, _ := a.intents.State(in.ID)
		return a.finish(AckOutcome{State: st, Duplicate: true})
	}

	out := a.acknowledge(ctx, in, il)
	if err := a.intents.Transition(in.ID, out.State); err != nil {
		il.Error("ack state transition", logger.Error(err))
	}

	switch out.State {
	case models.AckDeferred:
		il.Debug("interaction deferred", logger.Int("attempts", out.Attempts))
		a.schedule(parent, in, il)
	case models.AckExpired, models.AckFailed:
		fields := []logger.Field{
			logger.Duration("age", in.Age(a.now())),
			logger.String("class", string(out.Class)),
			logger.Int("attempts", out.Attempts),
			logger.Bool("conflict", out.Conflict),
		}
		if out.State == models.AckFailed {
			il.Error("interaction ack failed", fields...)
		} else {
			il.Warn("interaction expired", fields...)
		}
	}
	return a.finish(out)
}

func (a *Acknowledger) finish(out AckOutcome) AckOutcome {
	if a.metrics != nil {
		state := out.State.String()
		if out.Duplicate {
			state = "duplicate"
		}
		a.metrics.RecordAck(state, string(out.Class))
	}
	return out
}

func (a *Acknowledger) acknowledge(ctx context.Context, in models.InboundInteraction, il *logger.Logger) AckOutcome {
	out := AckOutcome{State: models.AckExpired, Class: models.ClassExpired}
	for retry := 0; ; retry++ {
		remaining := in.Remaining(a.now())
		if remaining < a.cfg.SafetyMargin {
			return out
		}

		n := a.intents.BeginAttempt(in.ID)
		out.Attempts = n
		actx, cancel := context.WithTimeout(ctx, remaining-a.cfg.SafetyMargin)
		err := a.responder.Ack(actx, in)
		cancel()

		class := a.responder.Classify(err)
		out.Class = class
		switch class {
		case models.ClassSuccess:
			out.State = models.AckDeferred
			return out

		case models.ClassAlreadyAcknowledged:
			if a.intents.IssuedBefore(in.ID, n) {
				// an earlier call of ours landed even though we saw it fail
				out.State = models.AckDeferred
				return out
			}
			il.Warn("interaction acknowledged by another consumer", logger.Error(err))
			out.State = models.AckFailed
			out.Conflict = true
			return out

		case models.ClassExpired:
			out.State = models.AckExpired
			return out

		case models.ClassTransient:
			if retry >= a.cfg.MaxRetries {
				out.State = models.AckExpired
				return out
			}
			wait := a.cfg.backoff(retry + 1)
			if in.Remaining(a.now())-wait < a.cfg.SafetyMargin+a.cfg.MinAttempt {
				out.State = models.AckExpired
				return out
			}
			il.Debug("transient ack error, retrying", logger.Int("attempt", n), logger.Duration("backoff", wait), logger.Error(err))
			if !sleepCtx(ctx, wait) {
				out.State = models.AckExpired
				return out
			}

		default:
			il.Error("unclassified ack error",
				logger.String("class", string(class)),
				logger.Int("attempt", n),
				logger.Duration("remaining", remaining),
				logger.Error(err))
			out.State = models.AckFailed
			return out
		}
	}
}

func (a *Acknowledger) schedule(parent context.Context, in models.InboundInteraction, il *logger.Logger) {
	if a.scheduler == nil {
		return
	}
	if err := a.scheduler.Schedule(context.WithoutCancel(parent), in); err != nil {
		il.Error("schedule command", logger.Error(err))
		rctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
		defer cancel()
		if rerr := a.Reply(rctx, in, models.UserMessage(models.UserMsgUnavailable)); rerr != nil {
			il.Error("fallback reply", logger.Error(rerr))
		}
	}
}

// Reply sends the final content for a deferred interaction, at most once per id.
func (a *Acknowledger) Reply(ctx context.Context, in models.InboundInteraction, content string) error {
	if st, known := a.intents.State(in.ID); known {
		switch {
		case st == models.AckReplied:
			return models.ErrAlreadyReplied
		case st != models.AckDeferred:
			return fmt.Errorf("reply %s (%s): %w", in.ID, st, models.ErrNotDeferred)
		}
	}
	if a.cfg.FollowUpWindow > 0 && in.Age(a.now()) > a.cfg.FollowUpWindow {
		return models.ErrReplyWindow
	}

	key := "reply:" + in.ID
	fresh, err := a.replies.CheckAndSet(ctx, key, a.cfg.FollowUpWindow)
	if err != nil {
		return fmt.Errorf("reply guard: %w", err)
	}
	if !fresh {
		return models.ErrAlreadyReplied
	}

	if err := a.responder.EditFinalReply(ctx, in, content); err != nil {
		if rerr := a.replies.Release(context.WithoutCancel(ctx), key); rerr != nil {
			a.log.Error("release reply guard", logger.Interaction(in.ID), logger.Error(rerr))
		}
		return fmt.Errorf("edit final reply: %w", err)
	}
	if err := a.intents.Transition(in.ID, models.AckReplied); err != nil && !errors.Is(err, models.ErrNotFound) {
		a.log.Warn("reply state transition", logger.Interaction(in.ID), logger.Error(err))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
