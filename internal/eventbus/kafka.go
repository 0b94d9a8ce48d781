package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	pkgkafka "FxAlert/pkg/kafka"
	"FxAlert/pkg/logger"
)

type producer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

type consumer interface {
	RegisterHandler(h pkgkafka.MessageHandler)
	Start() error
	Stop(ctx context.Context) error
}

// KafkaBus publishes events keyed by pair, so one tuple's events stay
// ordered within a partition. Subscriptions must be made before Start.
type KafkaBus struct {
	prod    producer
	cons    consumer
	log     *logger.Logger
	started atomic.Bool
}

var _ domrepo.EventBus = (*KafkaBus)(nil)

// NewKafkaBus builds a bus; c may be nil for publish-only processes.
func NewKafkaBus(p *pkgkafka.Producer, c *pkgkafka.Consumer, l *logger.Logger) *KafkaBus {
	if c == nil {
		return newKafkaBus(p, nil, l)
	}
	return newKafkaBus(p, c, l)
}

func newKafkaBus(p producer, c consumer, l *logger.Logger) *KafkaBus {
	if l == nil {
		l = logger.Nop()
	}
	return &KafkaBus{prod: p, cons: c, log: l}
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, ev models.SignalEvent) error {
	msg := pkgkafka.Message{
		Key:     []byte(ev.Pair),
		Value:   ev,
		Headers: map[string]string{pkgkafka.TraceIDHeader: ev.ID},
	}
	if err := b.prod.PublishBatch(ctx, topic, []pkgkafka.Message{msg}); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(topic string, h domrepo.EventHandler) (domrepo.Unsubscriber, error) {
	if h == nil {
		return nil, fmt.Errorf("nil handler")
	}
	if b.started.Load() {
		return nil, fmt.Errorf("subscribe %s: bus already started", topic)
	}
	if b.cons == nil {
		return nil, fmt.Errorf("subscribe %s: no consumer configured", topic)
	}
	eh := &eventHandler{topic: topic, h: h, log: b.log}
	b.cons.RegisterHandler(eh)
	return eh, nil
}

// Start begins consuming subscribed topics.
func (b *KafkaBus) Start() error {
	if b.cons == nil || !b.started.CompareAndSwap(false, true) {
		return nil
	}
	return b.cons.Start()
}

func (b *KafkaBus) Close(ctx context.Context) error {
	if b.cons == nil || !b.started.Load() {
		return nil
	}
	return b.cons.Stop(ctx)
}

// eventHandler adapts an EventHandler to pkgkafka.MessageHandler.
type eventHandler struct {
	topic    string
	h        domrepo.EventHandler
	log      *logger.Logger
	detached atomic.Bool
}

func (e *eventHandler) Topic() string { return e.topic }

func (e *eventHandler) Handle(ctx context.Context, data []byte) error {
	if e.detached.Load() {
		return nil
	}
	var ev models.SignalEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		// undecodable payloads would fail forever; let the DLQ take them
		return fmt.Errorf("decode event: %w", err)
	}
	if trace := pkgkafka.TraceIDFrom(ctx); trace != "" && trace != ev.ID {
		e.log.Warn("event trace mismatch",
			logger.String("trace_id", trace),
			logger.String("event_id", ev.ID))
	}
	return e.h(ctx, ev)
}

// Unsubscribe acknowledges and ignores further messages; the reader keeps its group membership.
func (e *eventHandler) Unsubscribe() { e.detached.Store(true) }
