package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
	"FxAlert/internal/repository"
)

type listBody struct {
	Status int `json:"status"`
	Data   struct {
		Rows  json.RawMessage `json:"rows"`
		Total int64           `json:"total"`
	} `json:"data"`
}

func newOpsServer(t *testing.T, checks map[string]HealthCheck) (*echo.Echo, *repository.MemoryStateStore, *repository.MemoryEventLog, *repository.MemorySubscriptionStore) {
	t.Helper()
	states := repository.NewMemoryStateStore()
	events := repository.NewMemoryEventLog(0)
	subs := repository.NewMemorySubscriptionStore()
	e := echo.New()
	NewOpsHandler(nil, states, events, subs, checks).RegisterRoutes(e)
	return e, states, events, subs
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthReportsDegraded(t *testing.T) {
	e, _, _, _ := newOpsServer(t, map[string]HealthCheck{
		"redis":      func(context.Context) error { return nil },
		"clickhouse": func(context.Context) error { return errors.New("refused") },
	})
	rec := get(e, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clickhouse":"down"`)
	assert.Contains(t, rec.Body.String(), `"redis":"up"`)
}

func TestHealthOK(t *testing.T) {
	e, _, _, _ := newOpsServer(t, nil)
	assert.Equal(t, http.StatusOK, get(e, "/healthz").Code)
}

func TestStateFiltersByPair(t *testing.T) {
	e, states, _, _ := newOpsServer(t, nil)
	ctx := context.Background()
	for _, st := range []models.SignalState{
		{Pair: "EUR/USD", Timeframe: models.TF1h, CurrentSignal: models.SignalBuy},
		{Pair: "EUR/USD", Timeframe: models.TF4h, CurrentSignal: models.SignalHold},
		{Pair: "GBP/USD", Timeframe: models.TF1h, CurrentSignal: models.SignalSell},
	} {
		_, err := states.CompareAndSwap(ctx, st, 0)
		require.NoError(t, err)
	}

	rec := get(e, "/api/signals/state?pair=eurusd")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Data.Total)

	rec = get(e, "/api/signals/state?pair=eurusd&timeframe=4h")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Data.Total)

	assert.Equal(t, http.StatusBadRequest, get(e, "/api/signals/state?pair=nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(e, "/api/signals/state?timeframe=7h").Code)
}

func TestHistoryLimitAndRange(t *testing.T) {
	e, _, events, _ := newOpsServer(t, nil)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, events.Record(context.Background(), models.SignalEvent{
			ID: string(rune('a' + i)), Pair: "EUR/USD", Timeframe: models.TF1h,
			NewSignal: models.SignalBuy, CreatedAt: base.Add(time.Duration(i) * time.Hour), Notify: true,
		}))
	}

	rec := get(e, "/api/signals/history?pair=EURUSD&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var rows []models.SignalEvent
	require.NoError(t, json.Unmarshal(body.Data.Rows, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "e", rows[0].ID)

	rec = get(e, "/api/signals/history?from=2024-03-01T01:00:00Z&to=2024-03-01T02:00:00Z")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Data.Total)

	assert.Equal(t, http.StatusBadRequest, get(e, "/api/signals/history?from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get(e, "/api/signals/history?limit=5000").Code)
}

func TestSubscriptionsByRecipient(t *testing.T) {
	e, _, _, subs := newOpsServer(t, nil)
	ctx := context.Background()
	for _, s := range []models.Subscription{
		{RecipientID: "r1", Pair: "EUR/USD", Timeframe: models.TF1h, CreatedAt: time.Now()},
		{RecipientID: "r1", Pair: "GBP/USD", Timeframe: models.TF1h, CreatedAt: time.Now()},
		{RecipientID: "r2", Pair: "EUR/USD", Timeframe: models.TF1h, CreatedAt: time.Now()},
	} {
		require.NoError(t, subs.Upsert(ctx, s))
	}

	var body listBody
	rec := get(e, "/api/subscriptions?recipient_id=r1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Data.Total)

	rec = get(e, "/api/subscriptions")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Data.Total)
}

type failingSubs struct {
	*repository.MemorySubscriptionStore
}

func (failingSubs) ListAll(context.Context, int) ([]models.Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestSubscriptionsStoreOutageIsUnavailable(t *testing.T) {
	e := echo.New()
	NewOpsHandler(nil, repository.NewMemoryStateStore(), repository.NewMemoryEventLog(0),
		failingSubs{repository.NewMemorySubscriptionStore()}, nil).RegisterRoutes(e)

	rec := get(e, "/api/subscriptions")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_UNAVAILABLE")
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
