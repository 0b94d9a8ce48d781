package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/internal/repository"
	"FxAlert/pkg/logger"
)

type scriptedPredictor struct {
	mu    sync.Mutex
	preds map[models.Tuple]models.Prediction
	err   error
	block chan struct{}
}

func (p *scriptedPredictor) set(t models.Tuple, signal string, conf float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.preds == nil {
		p.preds = make(map[models.Tuple]models.Prediction)
	}
	p.preds[t] = models.Prediction{Signal: signal, Confidence: conf, Factors: map[string]float64{"rsi": 0.4}}
}

func (p *scriptedPredictor) Predict(ctx context.Context, pair string, tf models.Timeframe) (models.Prediction, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return models.Prediction{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return models.Prediction{}, p.err
	}
	return p.preds[models.Tuple{Pair: pair, Timeframe: tf}], nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []models.SignalEvent
	err    error
}

func (b *recordingBus) Publish(_ context.Context, _ string, ev models.SignalEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(string, domrepo.EventHandler) (domrepo.Unsubscriber, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Events() []models.SignalEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.SignalEvent(nil), b.events...)
}

var eurusd = models.Tuple{Pair: "EUR/USD", Timeframe: models.TF1h}

type detectorFixture struct {
	clk    *fakeClock
	pred   *scriptedPredictor
	bus    *recordingBus
	states *repository.MemoryStateStore
	events *repository.MemoryEventLog
	det    *Detector
}

func newDetectorFixture(t *testing.T, l *logger.Logger, tuples ...models.Tuple) *detectorFixture {
	t.Helper()
	if len(tuples) == 0 {
		tuples = []models.Tuple{eurusd}
	}
	f := &detectorFixture{
		clk:    newFakeClock(),
		pred:   &scriptedPredictor{},
		bus:    &recordingBus{},
		states: repository.NewMemoryStateStore(),
		events: repository.NewMemoryEventLog(0),
	}
	var seq int64
	cfg := DetectorConfig{Tuples: tuples, Interval: time.Hour, Cooldown: 30 * time.Minute, Parallelism: 4, Topic: "signals"}
	f.det = NewDetector(cfg, f.pred, f.states, f.bus, f.events, nil, l,
		WithDetectorClock(f.clk.Now),
		WithDetectorIDs(func() string { return fmt.Sprintf("ev-%d", atomic.AddInt64(&seq, 1)) }))
	return f
}

func TestDetectorFirstHoldWritesBaseline(t *testing.T) {
	f := newDetectorFixture(t, nil)
	f.pred.set(eurusd, "hold", 0.5)

	assert.Equal(t, OutcomeBaseline, f.det.EvaluateTuple(context.Background(), eurusd))
	assert.Empty(t, f.bus.Events())

	st, found, err := f.states.Get(context.Background(), eurusd)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.SignalHold, st.CurrentSignal)
	assert.Equal(t, int64(1), st.Version)

	assert.Equal(t, OutcomeUnchanged, f.det.EvaluateTuple(context.Background(), eurusd))
}

func TestDetectorChangeThenSameSignalRaisesOneEvent(t *testing.T) {
	f := newDetectorFixture(t, nil)
	f.pred.set(eurusd, "BUY", 0.82)

	assert.Equal(t, OutcomeNotified, f.det.EvaluateTuple(context.Background(), eurusd))
	f.clk.Advance(time.Hour)
	assert.Equal(t, OutcomeUnchanged, f.det.EvaluateTuple(context.Background(), eurusd))

	evs := f.bus.Events()
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, models.SignalHold, ev.OldSignal)
	assert.Equal(t, models.SignalBuy, ev.NewSignal)
	assert.True(t, ev.Notify)
	assert.Equal(t, models.StrengthStrong, ev.Strength)

	st, _, _ := f.states.Get(context.Background(), eurusd)
	assert.Equal(t, models.SignalBuy, st.CurrentSignal)
	assert.False(t, st.LastNotifiedAt.IsZero())

	hist, err := f.events.History(context.Background(), domrepo.HistoryQuery{Pair: eurusd.Pair})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ev.ID, hist[0].ID)
}

func TestDetectorCooldownSuppressesThenAllows(t *testing.T) {
	f := newDetectorFixture(t, nil)
	ctx := context.Background()

	f.pred.set(eurusd, "buy", 0.7)
	require.Equal(t, OutcomeNotified, f.det.EvaluateTuple(ctx, eurusd))

	f.clk.Advance(10 * time.Minute)
	f.pred.set(eurusd, "sell", 0.7)
	require.Equal(t, OutcomeSuppressed, f.det.EvaluateTuple(ctx, eurusd))

	f.clk.Advance(25 * time.Minute)
	f.pred.set(eurusd, "buy", 0.7)
	require.Equal(t, OutcomeNotified, f.det.EvaluateTuple(ctx, eurusd))

	evs := f.bus.Events()
	require.Len(t, evs, 3)
	assert.True(t, evs[0].Notify)
	assert.False(t, evs[1].Notify)
	assert.True(t, evs[2].Notify)

	st, _, _ := f.states.Get(ctx, eurusd)
	assert.Equal(t, evs[2].CreatedAt, st.LastNotifiedAt)
}

func TestDetectorUnknownTokenTreatedAsHold(t *testing.T) {
	buf := &syncBuffer{}
	f := newDetectorFixture(t, logger.NewWriter(buf))
	ctx := context.Background()

	f.pred.set(eurusd, "buy", 0.7)
	require.Equal(t, OutcomeNotified, f.det.EvaluateTuple(ctx, eurusd))

	f.clk.Advance(time.Hour)
	f.pred.set(eurusd, "sideways?", 0.4)
	require.Equal(t, OutcomeNotified, f.det.EvaluateTuple(ctx, eurusd))

	evs := f.bus.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, models.SignalHold, evs[1].NewSignal)
	assert.Contains(t, buf.String(), "unrecognized signal token")
	assert.Contains(t, buf.String(), "sideways?")
}

func TestDetectorPublishFailureLeavesStateUntouched(t *testing.T) {
	f := newDetectorFixture(t, nil)
	f.pred.set(eurusd, "sell", 0.9)
	f.bus.err = errors.New("broker down")

	assert.Equal(t, OutcomePublishFailed, f.det.EvaluateTuple(context.Background(), eurusd))
	_, found, err := f.states.Get(context.Background(), eurusd)
	require.NoError(t, err)
	assert.False(t, found)

	f.bus.err = nil
	assert.Equal(t, OutcomeNotified, f.det.EvaluateTuple(context.Background(), eurusd))
	assert.Len(t, f.bus.Events(), 1)
}

func TestDetectorPredictFailureSkipsTuple(t *testing.T) {
	f := newDetectorFixture(t, nil)
	f.pred.err = errors.New("model offline")

	assert.Equal(t, OutcomePredictFailed, f.det.EvaluateTuple(context.Background(), eurusd))
	assert.Empty(t, f.bus.Events())
}

func TestDetectorConcurrentEvaluationSkipsOverlap(t *testing.T) {
	f := newDetectorFixture(t, nil)
	f.pred.set(eurusd, "buy", 0.7)
	f.pred.block = make(chan struct{})

	first := make(chan TupleOutcome, 1)
	go func() { first <- f.det.EvaluateTuple(context.Background(), eurusd) }()

	require.Eventually(t, func() bool {
		f.det.mu.Lock()
		defer f.det.mu.Unlock()
		_, busy := f.det.inflight[eurusd]
		return busy
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, OutcomeOverlap, f.det.EvaluateTuple(context.Background(), eurusd))
	close(f.pred.block)
	assert.Equal(t, OutcomeNotified, <-first)
	assert.Len(t, f.bus.Events(), 1)
}

func TestDetectorCycleIsolatesTuples(t *testing.T) {
	gbp := models.Tuple{Pair: "GBP/USD", Timeframe: models.TF4h}
	jpy := models.Tuple{Pair: "USD/JPY", Timeframe: models.TF1h}
	f := newDetectorFixture(t, nil, eurusd, gbp, jpy)
	f.pred.set(eurusd, "buy", 0.7)
	f.pred.set(gbp, "hold", 0.5)
	f.pred.set(jpy, "sell", 0.65)

	sum := f.det.RunCycle(context.Background())

	assert.Equal(t, 3, sum.Evaluated)
	assert.Equal(t, 2, sum.Outcomes[OutcomeNotified])
	assert.Equal(t, 1, sum.Outcomes[OutcomeBaseline])
	assert.Len(t, f.bus.Events(), 2)

	states, err := f.states.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestDetectorCancelledContextAborts(t *testing.T) {
	f := newDetectorFixture(t, nil)
	f.pred.set(eurusd, "buy", 0.7)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.det.EvaluateTuple(ctx, eurusd)
	assert.Contains(t, []TupleOutcome{OutcomeAborted, OutcomePredictFailed}, out)
	assert.Empty(t, f.bus.Events())
}
