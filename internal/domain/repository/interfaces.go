package repository

import (
	"context"
	"time"

	"FxAlert/internal/domain/models"
)

// SignalStateStore persists the last known signal per tuple.
type SignalStateStore interface {
	// Get returns the state and false when the tuple has never been stored.
	Get(ctx context.Context, t models.Tuple) (models.SignalState, bool, error)
	// CompareAndSwap writes next only if the stored version equals expected
	// (0 for "not stored yet") and bumps next.Version. It returns
	// models.ErrStateConflict otherwise.
	CompareAndSwap(ctx context.Context, next models.SignalState, expected int64) (models.SignalState, error)
	List(ctx context.Context) ([]models.SignalState, error)
}

// DedupStore is an expiring set with an atomic check-and-set.
type DedupStore interface {
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RateLimiter is a per-recipient sliding-window throttle.
type RateLimiter interface {
	Allow(ctx context.Context, recipientID string, max int, window time.Duration) (bool, error)
}

// HistoryQuery filters EventLog.History. Zero values mean "any".
type HistoryQuery struct {
	Pair      string
	Timeframe models.Timeframe
	From      time.Time
	To        time.Time
	Limit     int
}

// EventLog is the durable audit trail of raised signal events.
type EventLog interface {
	Record(ctx context.Context, ev models.SignalEvent) error
	MarkNotified(ctx context.Context, eventID string, recipientIDs []string) error
	History(ctx context.Context, q HistoryQuery) ([]models.SignalEvent, error)
}

// SubscriptionSource resolves candidate recipients for a tuple.
type SubscriptionSource interface {
	ListByTuple(ctx context.Context, t models.Tuple) ([]models.Subscription, error)
}

// SubscriptionStore is the command layer's read/write view of subscriptions.
type SubscriptionStore interface {
	SubscriptionSource
	Upsert(ctx context.Context, s models.Subscription) error
	Delete(ctx context.Context, recipientID string, t models.Tuple) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]models.Subscription, error)
	ListAll(ctx context.Context, limit int) ([]models.Subscription, error)
}

// ChannelClient delivers a rendered message to one recipient.
type ChannelClient interface {
	Deliver(ctx context.Context, recipientID, message string) error
}

// EventHandler consumes one signal event. Handlers must tolerate redelivery.
type EventHandler func(ctx context.Context, ev models.SignalEvent) error

// Unsubscriber detaches a handler registered with EventBus.Subscribe.
type Unsubscriber interface {
	Unsubscribe()
}

// EventBus carries signal events with at-least-once delivery.
type EventBus interface {
	Publish(ctx context.Context, topic string, ev models.SignalEvent) error
	Subscribe(topic string, h EventHandler) (Unsubscriber, error)
}

// InteractionResponder talks to the chat platform for one interaction.
type InteractionResponder interface {
	// Ack sends the deferred first response.
	Ack(ctx context.Context, in models.InboundInteraction) error
	// EditFinalReply replaces the deferred placeholder with content.
	EditFinalReply(ctx context.Context, in models.InboundInteraction, content string) error
	// Classify maps an Ack/EditFinalReply error onto the error taxonomy.
	Classify(err error) models.ErrorClass
}

type Metrics interface {
	RecordSignalEvent(pair, timeframe string, notify bool)
	RecordDetectorTuple(outcome string)
	RecordNotification(outcome string)
	RecordAck(state, class string)
	AckStarted()
	AckFinished()
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
