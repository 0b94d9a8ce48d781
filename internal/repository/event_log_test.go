package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
)

func TestMemoryEventLog_HistoryAndNotified(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog(0)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	events := []models.SignalEvent{
		{ID: "e1", Pair: "EUR/USD", Timeframe: models.TF1h, NewSignal: models.SignalBuy, CreatedAt: base, Notify: true},
		{ID: "e2", Pair: "EUR/USD", Timeframe: models.TF1h, NewSignal: models.SignalSell, CreatedAt: base.Add(time.Hour)},
		{ID: "e3", Pair: "GBP/USD", Timeframe: models.TF1h, NewSignal: models.SignalBuy, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, ev := range events {
		require.NoError(t, log.Record(ctx, ev))
	}
	require.NoError(t, log.MarkNotified(ctx, "e1", []string{"a", "b"}))
	require.NoError(t, log.MarkNotified(ctx, "e1", []string{"b", "c"}))

	got, err := log.History(ctx, domrepo.HistoryQuery{Pair: "EUR/USD"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID, "newest first")
	assert.Equal(t, []string{"a", "b", "c"}, got[1].NotifiedRecipientIDs)
	assert.False(t, got[0].Notify, "suppressed events are recorded too")

	got, err = log.History(ctx, domrepo.HistoryQuery{From: base.Add(30 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e3", got[0].ID)
}

func TestMemoryEventLog_Capacity(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryEventLog(2)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, log.Record(ctx, models.SignalEvent{ID: id, CreatedAt: time.Unix(int64(i), 0)}))
	}
	got, err := log.History(ctx, domrepo.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestBuildHistoryQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := buildHistoryQuery(domrepo.HistoryQuery{Pair: "EUR/USD", Timeframe: models.TF4h, From: from})
	assert.Contains(t, q, "WHERE e.pair = ? AND e.timeframe = ? AND e.created_at >= ?")
	assert.True(t, strings.HasSuffix(q, "LIMIT ?"))
	assert.Equal(t, []interface{}{"EUR/USD", "4h", from, 100}, args)

	q, args = buildHistoryQuery(domrepo.HistoryQuery{Limit: 5})
	assert.NotContains(t, q, "WHERE")
	assert.Equal(t, []interface{}{5}, args)
}
