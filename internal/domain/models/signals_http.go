package models

// Query DTOs for the ops HTTP endpoints.

type StateRequest struct {
	Pair      string `query:"pair" json:"pair"`
	Timeframe string `query:"timeframe" json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 30m 1h 4h 1d"`
}

type HistoryRequest struct {
	Pair      string `query:"pair" json:"pair"`
	Timeframe string `query:"timeframe" json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 30m 1h 4h 1d"`
	From      string `query:"from" json:"from"`
	To        string `query:"to" json:"to"`
	Limit     int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type SubscriptionsRequest struct {
	RecipientID string `query:"recipient_id" json:"recipient_id"`
	Limit       int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}

// Command params, bound from interaction params.

type SignalCommandParams struct {
	Pair      string `json:"pair" validate:"required,min=6,max=7"`
	Timeframe string `json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
}

type SubscribeCommandParams struct {
	Pair          string  `json:"pair" validate:"required,min=6,max=7"`
	Timeframe     string  `json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	SignalType    string  `json:"signal_type" default:"all" validate:"oneof=all buy sell strong"`
	MinConfidence float64 `json:"min_confidence" validate:"gte=0,lte=1"`
}

type UnsubscribeCommandParams struct {
	Pair      string `json:"pair" validate:"required,min=6,max=7"`
	Timeframe string `json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
}
