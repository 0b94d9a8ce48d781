package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
)

func TestMemorySubscriptionStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eurusd := models.Tuple{Pair: "EUR/USD", Timeframe: models.TF1h}

	s := NewMemorySubscriptionStore(
		models.Subscription{RecipientID: "b", Pair: "EUR/USD", Timeframe: models.TF1h, CreatedAt: base.Add(time.Minute)},
		models.Subscription{RecipientID: "a", Pair: "EUR/USD", Timeframe: models.TF1h, CreatedAt: base},
		models.Subscription{RecipientID: "a", Pair: "GBP/USD", Timeframe: models.TF1h, CreatedAt: base},
	)

	subs, err := s.ListByTuple(ctx, eurusd)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "a", subs[0].RecipientID)

	// upsert keeps creation time and replaces the filter
	require.NoError(t, s.Upsert(ctx, models.Subscription{
		RecipientID: "a", Pair: "EUR/USD", Timeframe: models.TF1h,
		Filter: models.Filter{SignalType: models.FilterBuy, MinConfidence: 0.7},
	}))
	subs, _ = s.ListByRecipient(ctx, "a")
	require.Len(t, subs, 2)
	for _, sub := range subs {
		if sub.Pair == "EUR/USD" {
			assert.Equal(t, models.FilterBuy, sub.Filter.SignalType)
			assert.True(t, sub.CreatedAt.Equal(base))
		}
	}

	removed, err := s.Delete(ctx, "a", eurusd)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, _ = s.Delete(ctx, "a", eurusd)
	assert.False(t, removed)

	all, _ := s.ListAll(ctx, 1)
	assert.Len(t, all, 1)
}
