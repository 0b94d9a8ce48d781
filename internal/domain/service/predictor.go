package service

import (
	"context"

	"FxAlert/internal/domain/models"
)

// Predictor returns a fresh raw prediction for a tuple.
type Predictor interface {
	Predict(ctx context.Context, pair string, tf models.Timeframe) (models.Prediction, error)
}
