// Package eventbus carries signal events from the detector to the dispatcher.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/pkg/logger"
)

var ErrClosed = errors.New("event bus closed")

type Option func(*options)

type options struct {
	buffer     int
	retryMax   int
	retryDelay time.Duration
	log        *logger.Logger
}

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithRetry sets how often a failing handler is retried and the base delay.
func WithRetry(max int, delay time.Duration) Option {
	return func(o *options) {
		if max >= 0 {
			o.retryMax = max
		}
		o.retryDelay = delay
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func defaultOptions() options {
	return options{buffer: 256, retryMax: 3, retryDelay: 200 * time.Millisecond, log: logger.Nop()}
}

// MemoryBus delivers events in process. Each subscriber owns a bounded queue
// drained by one goroutine; a failing handler is retried with linear backoff.
type MemoryBus struct {
	opts   options
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool
	wg     sync.WaitGroup
}

var _ domrepo.EventBus = (*MemoryBus)(nil)

func NewMemoryBus(opts ...Option) *MemoryBus {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryBus{opts: o, subs: make(map[string][]*subscriber)}
}

type subscriber struct {
	bus   *MemoryBus
	topic string
	h     domrepo.EventHandler
	ch    chan models.SignalEvent
	once  sync.Once
}

// Publish enqueues ev for every subscriber of topic. It blocks while a
// subscriber queue is full and fails when ctx ends first.
func (b *MemoryBus) Publish(ctx context.Context, topic string, ev models.SignalEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", topic, ctx.Err())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, h domrepo.EventHandler) (domrepo.Unsubscriber, error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &subscriber{bus: b, topic: topic, h: h, ch: make(chan models.SignalEvent, b.opts.buffer)}
	b.subs[topic] = append(b.subs[topic], s)
	b.wg.Add(1)
	go s.run()
	return s, nil
}

// Unsubscribe stops new deliveries; queued events are still handled.
func (s *subscriber) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	list := b.subs[s.topic]
	for i, other := range list {
		if other == s {
			b.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	s.close()
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

func (s *subscriber) run() {
	defer s.bus.wg.Done()
	for ev := range s.ch {
		s.deliver(ev)
	}
}

func (s *subscriber) deliver(ev models.SignalEvent) {
	o := s.bus.opts
	var err error
	for attempt := 0; attempt <= o.retryMax; attempt++ {
		if attempt > 0 && o.retryDelay > 0 {
			time.Sleep(o.retryDelay * time.Duration(attempt))
		}
		if err = s.call(ev); err == nil {
			return
		}
		o.log.Warn("event handler failed",
			logger.String("topic", s.topic),
			logger.String("event_id", ev.ID),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}
	o.log.Error("event dropped after retries",
		logger.String("topic", s.topic),
		logger.String("event_id", ev.ID),
		logger.Error(err))
}

func (s *subscriber) call(ev models.SignalEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.h(context.Background(), ev)
}

// Close stops accepting events and waits until queued ones are handled or ctx ends.
func (b *MemoryBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscriber
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[string][]*subscriber)
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
