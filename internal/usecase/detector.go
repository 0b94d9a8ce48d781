package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	domsvc "FxAlert/internal/domain/service"
	"FxAlert/pkg/logger"
	"FxAlert/pkg/util"
)

// TupleOutcome is the result of evaluating one tuple in a cycle.
type TupleOutcome string

const (
	OutcomeUnchanged     TupleOutcome = "unchanged"
	OutcomeBaseline      TupleOutcome = "baseline"
	OutcomeNotified      TupleOutcome = "notified"
	OutcomeSuppressed    TupleOutcome = "suppressed"
	OutcomeOverlap       TupleOutcome = "skipped_overlap"
	OutcomePredictFailed TupleOutcome = "predict_failed"
	OutcomeStoreFailed   TupleOutcome = "store_failed"
	OutcomePublishFailed TupleOutcome = "publish_failed"
	OutcomeConflict      TupleOutcome = "conflict"
	OutcomeAborted       TupleOutcome = "aborted"
)

type DetectorConfig struct {
	Tuples         []models.Tuple
	Interval       time.Duration
	Cooldown       time.Duration
	PredictTimeout time.Duration
	Parallelism    int
	Topic          string
	RunOnStart     bool
}

// CycleSummary aggregates tuple outcomes of one cycle.
type CycleSummary struct {
	Evaluated int
	Outcomes  map[TupleOutcome]int
	Duration  time.Duration
}

// Detector periodically compares fresh predictions with the stored state of
// every tracked tuple and raises SignalEvents on change.
type Detector struct {
	cfg       DetectorConfig
	predictor domsvc.Predictor
	states    domrepo.SignalStateStore
	bus       domrepo.EventBus
	events    domrepo.EventLog
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	inflight map[models.Tuple]struct{}
}

type DetectorOption func(*Detector)

func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

func WithDetectorIDs(newID func() string) DetectorOption {
	return func(d *Detector) { d.newID = newID }
}

func NewDetector(cfg DetectorConfig, predictor domsvc.Predictor, states domrepo.SignalStateStore, bus domrepo.EventBus,
	events domrepo.EventLog, metrics domrepo.Metrics, l *logger.Logger, opts ...DetectorOption) *Detector {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = 10 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	d := &Detector{
		cfg:       cfg,
		predictor: predictor,
		states:    states,
		bus:       bus,
		events:    events,
		metrics:   metrics,
		log:       l,
		now:       time.Now,
		newID:     uuid.NewString,
		inflight:  make(map[models.Tuple]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run evaluates all tuples every Interval until ctx is done. Ticks are
// aligned to interval boundaries.
func (d *Detector) Run(ctx context.Context) error {
	if d.cfg.Interval <= 0 {
		return errors.New("detector interval must be positive")
	}
	if d.cfg.RunOnStart {
		d.RunCycle(ctx)
	}
	timer := time.NewTimer(d.untilNextTick())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			d.RunCycle(ctx)
			timer.Reset(d.untilNextTick())
		}
	}
}

func (d *Detector) untilNextTick() time.Duration {
	if next := util.UntilNextBoundary(d.now(), d.cfg.Interval); next > 0 {
		return next
	}
	return d.cfg.Interval
}

// RunCycle evaluates every tuple with bounded parallelism and logs one summary.
func (d *Detector) RunCycle(ctx context.Context) CycleSummary {
	start := time.Now()
	sum := CycleSummary{Outcomes: make(map[TupleOutcome]int)}
	var mu sync.Mutex
	sem := make(chan struct{}, d.cfg.Parallelism)
	var wg sync.WaitGroup

	for _, t := range d.cfg.Tuples {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(t models.Tuple) {
			defer wg.Done()
			defer func() { <-sem }()
			out := d.evaluateSafe(ctx, t)
			mu.Lock()
			sum.Evaluated++
			sum.Outcomes[out]++
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	sum.Duration = time.Since(start)

	if d.metrics != nil {
		d.metrics.RecordLatency("detector_cycle", sum.Duration.Seconds())
	}
	d.log.Info("detector cycle done",
		logger.Int("evaluated", sum.Evaluated),
		logger.Int("notified", sum.Outcomes[OutcomeNotified]),
		logger.Int("suppressed", sum.Outcomes[OutcomeSuppressed]),
		logger.Int("unchanged", sum.Outcomes[OutcomeUnchanged]+sum.Outcomes[OutcomeBaseline]),
		logger.Int("failed", sum.failed()),
		logger.Int("skipped", sum.Outcomes[OutcomeOverlap]+sum.Outcomes[OutcomeAborted]),
		logger.Duration("duration", sum.Duration))
	return sum
}

func (s CycleSummary) failed() int {
	return s.Outcomes[OutcomePredictFailed] + s.Outcomes[OutcomeStoreFailed] +
		s.Outcomes[OutcomePublishFailed] + s.Outcomes[OutcomeConflict]
}

func (d *Detector) evaluateSafe(ctx context.Context, t models.Tuple) (out TupleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("detector tuple panic", logger.String("tuple", t.String()), logger.Any("panic", r))
			out = OutcomeStoreFailed
		}
		if d.metrics != nil {
			d.metrics.RecordDetectorTuple(string(out))
		}
	}()
	return d.EvaluateTuple(ctx, t)
}

func (d *Detector) claim(t models.Tuple) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[t]; busy {
		return false
	}
	d.inflight[t] = struct{}{}
	return true
}

func (d *Detector) release(t models.Tuple) {
	d.mu.Lock()
	delete(d.inflight, t)
	d.mu.Unlock()
}

// EvaluateTuple runs one read-compare-publish-commit step for t.
// A failed publish aborts before any state write; once published, the state
// commit runs to completion even if ctx is cancelled.
func (d *Detector) EvaluateTuple(ctx context.Context, t models.Tuple) TupleOutcome {
	tl := d.log.With(logger.String("pair", t.Pair), logger.String("timeframe", string(t.Timeframe)))
	if !d.claim(t) {
		tl.Warn("previous evaluation still running, skipping")
		return OutcomeOverlap
	}
	defer d.release(t)

	pctx, cancel := context.WithTimeout(ctx, d.cfg.PredictTimeout)
	pred, err := d.predictor.Predict(pctx, t.Pair, t.Timeframe)
	cancel()
	if err != nil {
		tl.Warn("prediction failed, skipping tuple", logger.Error(err))
		return OutcomePredictFailed
	}

	sig, known := models.NormalizeSignal(pred.Signal)
	if !known {
		tl.Warn("unrecognized signal token, treating as hold", logger.String("token", pred.Signal))
	}

	prev, found, err := d.states.Get(ctx, t)
	if err != nil {
		tl.Error("load signal state", logger.Error(err))
		return OutcomeStoreFailed
	}
	current := models.SignalHold
	if found {
		current = prev.CurrentSignal
	}

	now := d.now()
	if sig == current {
		if found {
			return OutcomeUnchanged
		}
		if ctx.Err() != nil {
			return OutcomeAborted
		}
		base := models.SignalState{Pair: t.Pair, Timeframe: t.Timeframe, CurrentSignal: sig, LastChangedAt: now}
		if _, err := d.states.CompareAndSwap(ctx, base, 0); err != nil && !errors.Is(err, models.ErrStateConflict) {
			tl.Error("write baseline state", logger.Error(err))
			return OutcomeStoreFailed
		}
		return OutcomeBaseline
	}

	next := models.SignalState{
		Pair:           t.Pair,
		Timeframe:      t.Timeframe,
		CurrentSignal:  sig,
		LastChangedAt:  now,
		LastNotifiedAt: prev.LastNotifiedAt,
	}
	notify := prev.LastNotifiedAt.IsZero() || now.Sub(prev.LastNotifiedAt) >= d.cfg.Cooldown
	if notify {
		next.LastNotifiedAt = now
	} else {
		tl.Info("signal change inside cooldown, not notifying",
			logger.String("old", string(current)),
			logger.String("new", string(sig)),
			logger.Time("last_notified_at", prev.LastNotifiedAt),
			logger.Duration("cooldown", d.cfg.Cooldown))
	}

	ev := models.SignalEvent{
		ID:              d.newID(),
		Pair:            t.Pair,
		Timeframe:       t.Timeframe,
		OldSignal:       current,
		NewSignal:       sig,
		Confidence:      pred.Confidence,
		Strength:        models.NormalizeStrength(pred.Strength, pred.Confidence),
		MarketCondition: pred.MarketCondition,
		Factors:         pred.Factors,
		CreatedAt:       now,
		Notify:          notify,
	}

	if ctx.Err() != nil {
		return OutcomeAborted
	}
	if err := d.bus.Publish(ctx, d.cfg.Topic, ev); err != nil {
		tl.Error("publish signal event, state left unchanged", logger.String("event_id", ev.ID), logger.Error(err))
		return OutcomePublishFailed
	}

	// past this point the event is out; finish the write regardless of shutdown
	wctx := context.WithoutCancel(ctx)
	if d.events != nil {
		if err := d.events.Record(wctx, ev); err != nil {
			tl.Error("record signal event", logger.String("event_id", ev.ID), logger.Error(err))
		}
	}
	if _, err := d.states.CompareAndSwap(wctx, next, prev.Version); err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			tl.Warn("signal state changed concurrently", logger.String("event_id", ev.ID))
			return OutcomeConflict
		}
		tl.Error("commit signal state", logger.String("event_id", ev.ID), logger.Error(err))
		return OutcomeStoreFailed
	}
	if d.metrics != nil {
		d.metrics.RecordSignalEvent(t.Pair, string(t.Timeframe), notify)
	}

	tl.Info("signal changed",
		logger.String("event_id", ev.ID),
		logger.String("old", string(current)),
		logger.String("new", string(sig)),
		logger.Float64("confidence", pred.Confidence),
		logger.Bool("notify", notify))
	if notify {
		return OutcomeNotified
	}
	return OutcomeSuppressed
}
