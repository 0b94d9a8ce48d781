package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/pkg/cache"
	"FxAlert/pkg/logger"
)

// Per-recipient dispatch outcomes.
const (
	DeliverySent        = "sent"
	DeliveryRateLimited = "rate_limited"
	DeliveryDuplicate   = "duplicate"
	DeliveryFailed      = "failed"
)

type DispatcherConfig struct {
	Topic           string
	RateLimitMax    int
	RateLimitWindow time.Duration
	DedupTTL        time.Duration
	DeliverTimeout  time.Duration
	Concurrency     int
}

// BatchSummary counts per-recipient outcomes for one event.
type BatchSummary struct {
	Candidates int
	Sent       []string
	Skipped    int
	Failed     int
}

// Dispatcher fans notify events out to matching subscribers.
type Dispatcher struct {
	cfg     DispatcherConfig
	subs    domrepo.SubscriptionSource
	limiter domrepo.RateLimiter
	dedup   domrepo.DedupStore
	channel domrepo.ChannelClient
	events  domrepo.EventLog
	metrics domrepo.Metrics
	log     *logger.Logger
	render  func(models.SignalEvent) string
}

func NewDispatcher(cfg DispatcherConfig, subs domrepo.SubscriptionSource, limiter domrepo.RateLimiter, dedup domrepo.DedupStore,
	channel domrepo.ChannelClient, events domrepo.EventLog, metrics domrepo.Metrics, l *logger.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		subs:    subs,
		limiter: limiter,
		dedup:   dedup,
		channel: channel,
		events:  events,
		metrics: metrics,
		log:     l,
		render:  RenderEvent,
	}
}

// Subscribe attaches the dispatcher to the bus topic.
func (d *Dispatcher) Subscribe(bus domrepo.EventBus) (domrepo.Unsubscriber, error) {
	return bus.Subscribe(d.cfg.Topic, d.Handle)
}

// DedupKey identifies one (recipient, pair, timeframe, signal) notification.
func DedupKey(recipientID string, ev models.SignalEvent) string {
	return cache.GenerateKeyWithParams("dedup", recipientID, ev.Pair, string(ev.Timeframe), string(ev.NewSignal))
}

// Handle dispatches one event. It returns an error only when the event as a
// whole should be redelivered; per-recipient failures are logged and counted.
func (d *Dispatcher) Handle(ctx context.Context, ev models.SignalEvent) error {
	if !ev.Notify {
		return nil
	}
	start := time.Now()
	el := d.log.With(logger.String("event_id", ev.ID), logger.String("pair", ev.Pair), logger.String("timeframe", string(ev.Timeframe)))

	subs, err := d.subs.ListByTuple(ctx, ev.Tuple())
	if err != nil {
		el.Error("resolve subscribers", logger.Error(err))
		return fmt.Errorf("resolve subscribers for %s: %w", ev.Tuple(), err)
	}
	candidates := make([]models.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Matches(ev) {
			candidates = append(candidates, s)
		}
	}

	sum := d.dispatch(ctx, ev, candidates)
	if len(sum.Sent) > 0 && d.events != nil {
		if err := d.events.MarkNotified(context.WithoutCancel(ctx), ev.ID, sum.Sent); err != nil {
			el.Error("record notified recipients", logger.Error(err))
		}
	}
	if d.metrics != nil {
		d.metrics.RecordLatency("dispatch_event", time.Since(start).Seconds())
	}
	el.Info("dispatch done",
		logger.Int("subscribers", len(subs)),
		logger.Int("candidates", sum.Candidates),
		logger.Int("sent", len(sum.Sent)),
		logger.Int("skipped", sum.Skipped),
		logger.Int("failed", sum.Failed),
		logger.Duration("duration", time.Since(start)))
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev models.SignalEvent, candidates []models.Subscription) BatchSummary {
	sum := BatchSummary{Candidates: len(candidates)}
	if len(candidates) == 0 {
		return sum
	}
	message := d.render(ev)

	outcomes := make([]string, len(candidates))
	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, s := range candidates {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, recipientID string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = d.deliverOne(ctx, ev, recipientID, message)
			if d.metrics != nil {
				d.metrics.RecordNotification(outcomes[i])
			}
		}(i, s.RecipientID)
	}
	wg.Wait()

	for i, out := range outcomes {
		switch out {
		case DeliverySent:
			sum.Sent = append(sum.Sent, candidates[i].RecipientID)
		case DeliveryFailed:
			sum.Failed++
		default:
			sum.Skipped++
		}
	}
	return sum
}

func (d *Dispatcher) deliverOne(ctx context.Context, ev models.SignalEvent, recipientID, message string) string {
	rl := d.log.With(logger.String("event_id", ev.ID), logger.String("recipient_id", recipientID))

	ok, err := d.limiter.Allow(ctx, recipientID, d.cfg.RateLimitMax, d.cfg.RateLimitWindow)
	if err != nil {
		rl.Error("rate limiter", logger.Error(err))
		return DeliveryFailed
	}
	if !ok {
		rl.Debug("recipient rate limited")
		return DeliveryRateLimited
	}

	key := DedupKey(recipientID, ev)
	fresh, err := d.dedup.CheckAndSet(ctx, key, d.cfg.DedupTTL)
	if err != nil {
		rl.Error("dedup store", logger.Error(err))
		return DeliveryFailed
	}
	if !fresh {
		rl.Debug("duplicate notification suppressed")
		return DeliveryDuplicate
	}

	dctx, cancel := context.WithTimeout(ctx, d.cfg.DeliverTimeout)
	err = d.channel.Deliver(dctx, recipientID, message)
	cancel()
	if err != nil {
		rl.Warn("delivery failed", logger.Error(err))
		if rerr := d.dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
			rl.Error("release dedup key", logger.Error(rerr))
		}
		return DeliveryFailed
	}
	return DeliverySent
}
