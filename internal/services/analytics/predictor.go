package analytics

import (
	"context"
	"fmt"

	"FxAlert/internal/domain/models"
	domsvc "FxAlert/internal/domain/service"
)

// HTTPPredictor asks the prediction service for the current signal of a tuple.
type HTTPPredictor struct {
	base     *HTTPServiceBase
	attempts int
}

func NewHTTPPredictor(base *HTTPServiceBase, retries int) *HTTPPredictor {
	if retries < 0 {
		retries = 0
	}
	return &HTTPPredictor{base: base, attempts: retries + 1}
}

type predictRequest struct {
	Pair      string `json:"pair"`
	Timeframe string `json:"timeframe"`
}

type predictResponse struct {
	Signal          string             `json:"signal"`
	Confidence      float64            `json:"confidence"`
	Strength        string             `json:"strength"`
	MarketCondition string             `json:"market_condition"`
	Factors         map[string]float64 `json:"factors"`
}

func (p *HTTPPredictor) Predict(ctx context.Context, pair string, tf models.Timeframe) (models.Prediction, error) {
	var pr predictResponse
	err := p.base.PostJSONWithRetry(ctx, "/predict", predictRequest{Pair: pair, Timeframe: string(tf)}, &pr, p.attempts)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("predict %s@%s: %w", pair, tf, err)
	}
	if pr.Confidence < 0 {
		pr.Confidence = 0
	}
	if pr.Confidence > 1 {
		pr.Confidence = 1
	}
	return models.Prediction{
		Signal:          pr.Signal,
		Confidence:      pr.Confidence,
		Strength:        pr.Strength,
		MarketCondition: pr.MarketCondition,
		Factors:         pr.Factors,
	}, nil
}

var _ domsvc.Predictor = (*HTTPPredictor)(nil)
