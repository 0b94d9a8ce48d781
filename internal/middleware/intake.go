// Package middleware sits between the gateway connection and the acknowledger.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/internal/usecase"
	"FxAlert/pkg/logger"
)

var (
	ErrIntakeClosed = errors.New("intake closed")
	ErrIntakeFull   = errors.New("intake at capacity")
)

// AckHandler is the acknowledgment entry point; usecase.Acknowledger implements it.
type AckHandler interface {
	Handle(ctx context.Context, in models.InboundInteraction) usecase.AckOutcome
}

// Intake validates inbound interactions and hands each one to its own
// goroutine so a slow acknowledgment never delays the next delivery.
type Intake struct {
	ack         AckHandler
	metrics     domrepo.Metrics
	log         *logger.Logger
	maxInFlight int
	now         func() time.Time

	mu       sync.Mutex
	inflight int
	closed   bool
	wg       sync.WaitGroup
}

type IntakeOption func(*Intake)

// WithMaxInFlight caps concurrently handled interactions.
func WithMaxInFlight(n int) IntakeOption {
	return func(i *Intake) {
		if n > 0 {
			i.maxInFlight = n
		}
	}
}

func WithIntakeLogger(l *logger.Logger) IntakeOption {
	return func(i *Intake) {
		if l != nil {
			i.log = l
		}
	}
}

func WithIntakeClock(now func() time.Time) IntakeOption {
	return func(i *Intake) { i.now = now }
}

func NewIntake(ack AckHandler, metrics domrepo.Metrics, opts ...IntakeOption) *Intake {
	i := &Intake{
		ack:         ack,
		metrics:     metrics,
		log:         logger.Nop(),
		maxInFlight: 1024,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Accept is the gateway callback. Rejections are logged and counted.
func (i *Intake) Accept(in models.InboundInteraction) {
	if err := i.Submit(context.Background(), in); err != nil {
		i.log.Warn("interaction rejected", logger.Interaction(in.ID), logger.Error(err))
	}
}

// Submit validates in and starts its acknowledgment in the background.
func (i *Intake) Submit(ctx context.Context, in models.InboundInteraction) error {
	if err := validateInteraction(&in); err != nil {
		i.recordError("intake_validate")
		return err
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrIntakeClosed
	}
	if i.inflight >= i.maxInFlight {
		i.mu.Unlock()
		i.recordError("intake_full")
		return ErrIntakeFull
	}
	i.inflight++
	i.wg.Add(1)
	i.mu.Unlock()

	if i.metrics != nil {
		i.metrics.RecordLatency("intake_lag", in.Age(i.now()).Seconds())
	}

	go func() {
		defer func() {
			i.mu.Lock()
			i.inflight--
			i.mu.Unlock()
			i.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				i.recordError("intake_panic")
				i.log.Error("interaction handler panic", logger.Interaction(in.ID), logger.Any("panic", r))
			}
		}()
		i.ack.Handle(ctx, in)
	}()
	return nil
}

// InFlight returns the number of interactions being handled.
func (i *Intake) InFlight() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inflight
}

// Drain stops accepting and waits for in-flight interactions or ctx.
func (i *Intake) Drain(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain intake: %w", ctx.Err())
	}
}

func (i *Intake) recordError(kind string) {
	if i.metrics != nil {
		i.metrics.RecordError(kind)
	}
}

func validateInteraction(in *models.InboundInteraction) error {
	switch {
	case in.ID == "":
		return fmt.Errorf("interaction id empty")
	case in.Token == "":
		return fmt.Errorf("interaction %s: token empty", in.ID)
	case in.CommandName == "":
		return fmt.Errorf("interaction %s: command empty", in.ID)
	case in.CreatedAt.IsZero():
		return fmt.Errorf("interaction %s: created_at missing", in.ID)
	}
	if in.Deadline.IsZero() {
		in.Deadline = in.CreatedAt.Add(models.DefaultAckDeadline)
	}
	return nil
}
