package models

import "time"

// SignalTypeFilter selects which signal changes a subscriber wants.
type SignalTypeFilter string

const (
	FilterAll        SignalTypeFilter = "all"
	FilterBuy        SignalTypeFilter = "buy"
	FilterSell       SignalTypeFilter = "sell"
	FilterStrongOnly SignalTypeFilter = "strong"
)

// IsValidFilter reports whether f is a known filter.
func IsValidFilter(f SignalTypeFilter) bool {
	switch f {
	case FilterAll, FilterBuy, FilterSell, FilterStrongOnly:
		return true
	default:
		return false
	}
}

// Filter is the per-subscription selection applied by the dispatcher.
type Filter struct {
	SignalType    SignalTypeFilter `json:"signal_type"`
	MinConfidence float64          `json:"min_confidence"`
}

// Subscription links a recipient to a (pair, timeframe) tuple.
type Subscription struct {
	RecipientID string    `json:"recipient_id"`
	Pair        string    `json:"pair"`
	Timeframe   Timeframe `json:"timeframe"`
	Filter      Filter    `json:"filter"`
	CreatedAt   time.Time `json:"created_at"`
}

// Matches reports whether ev passes the subscription's tuple and filter.
func (s Subscription) Matches(ev SignalEvent) bool {
	if s.Pair != ev.Pair || s.Timeframe != ev.Timeframe {
		return false
	}
	if ev.Confidence < s.Filter.MinConfidence {
		return false
	}
	switch s.Filter.SignalType {
	case FilterAll, "":
		return true
	case FilterBuy:
		return ev.NewSignal == SignalBuy
	case FilterSell:
		return ev.NewSignal == SignalSell
	case FilterStrongOnly:
		return ev.Strength == StrengthStrong && ev.NewSignal != SignalHold
	default:
		return false
	}
}
