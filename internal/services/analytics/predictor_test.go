package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxAlert/internal/domain/models"
)

func TestHTTPPredictor_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "EUR/USD", req.Pair)
		assert.Equal(t, "4h", req.Timeframe)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"signal": "BULLISH", "confidence": 1.4, "strength": "high",
			"market_condition": "trending", "factors": map[string]float64{"rsi": 0.3},
		})
	}))
	defer srv.Close()

	p := NewHTTPPredictor(NewHTTPServiceBase(srv.URL, time.Second), 0)
	got, err := p.Predict(context.Background(), "EUR/USD", models.TF4h)
	require.NoError(t, err)
	assert.Equal(t, "BULLISH", got.Signal)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, "trending", got.MarketCondition)
	assert.Equal(t, 0.3, got.Factors["rsi"])
}

func TestHTTPPredictor_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"signal":"sell","confidence":0.5}`))
	}))
	defer srv.Close()

	base := NewHTTPServiceBase(srv.URL, time.Second)
	base.backoff = time.Millisecond
	got, err := NewHTTPPredictor(base, 2).Predict(context.Background(), "GBP/USD", models.TF1h)
	require.NoError(t, err)
	assert.Equal(t, "sell", got.Signal)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPPredictor_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPPredictor(NewHTTPServiceBase(srv.URL, time.Second), 3).Predict(context.Background(), "EUR/USD", models.TF1h)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPPredictor_ExhaustedRetriesAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	base := NewHTTPServiceBase(srv.URL, time.Second)
	base.backoff = time.Millisecond
	_, err := NewHTTPPredictor(base, 1).Predict(context.Background(), "EUR/USD", models.TF1h)
	assert.ErrorIs(t, err, models.ErrUnavailable)
}
