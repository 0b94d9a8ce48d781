package models

import (
	"fmt"
	"strings"
	"time"
)

// Signal is the normalized trading direction.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Strength grades how decisive a signal is.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// signalSynonyms maps upstream tokens onto the fixed enum.
var signalSynonyms = map[string]Signal{
	"buy":         SignalBuy,
	"long":        SignalBuy,
	"bullish":     SignalBuy,
	"up":          SignalBuy,
	"strong_buy":  SignalBuy,
	"strong buy":  SignalBuy,
	"sell":        SignalSell,
	"short":       SignalSell,
	"bearish":     SignalSell,
	"down":        SignalSell,
	"strong_sell": SignalSell,
	"strong sell": SignalSell,
	"hold":        SignalHold,
	"neutral":     SignalHold,
	"wait":        SignalHold,
	"flat":        SignalHold,
	"none":        SignalHold,
}

// NormalizeSignal maps an upstream token onto {buy, sell, hold}.
// ok is false when the token is unrecognized; the returned signal is then hold.
func NormalizeSignal(raw string) (Signal, bool) {
	s, found := signalSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	if !found {
		return SignalHold, false
	}
	return s, true
}

// NormalizeStrength maps an upstream strength token, falling back to a
// confidence-derived grade when the token is empty or unknown.
func NormalizeStrength(raw string, confidence float64) Strength {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strong", "high":
		return StrengthStrong
	case "moderate", "medium":
		return StrengthModerate
	case "weak", "low":
		return StrengthWeak
	}
	switch {
	case confidence >= 0.8:
		return StrengthStrong
	case confidence >= 0.6:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Tuple identifies one tracked (pair, timeframe) combination.
type Tuple struct {
	Pair      string
	Timeframe Timeframe
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s@%s", t.Pair, t.Timeframe)
}

// Prediction is the raw answer of the prediction collaborator.
type Prediction struct {
	Signal          string
	Confidence      float64
	Strength        string
	MarketCondition string
	Factors         map[string]float64
}

// SignalEvent is raised by the detector when a tuple changes state.
// It is immutable once published.
type SignalEvent struct {
	ID                   string             `json:"id"`
	Pair                 string             `json:"pair"`
	Timeframe            Timeframe          `json:"timeframe"`
	OldSignal            Signal             `json:"old_signal"`
	NewSignal            Signal             `json:"new_signal"`
	Confidence           float64            `json:"confidence"`
	Strength             Strength           `json:"strength"`
	MarketCondition      string             `json:"market_condition,omitempty"`
	Factors              map[string]float64 `json:"factors,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	Notify               bool               `json:"notify"`
	NotifiedRecipientIDs []string           `json:"notified_recipient_ids,omitempty"`
}

// Tuple returns the (pair, timeframe) the event belongs to.
func (e SignalEvent) Tuple() Tuple {
	return Tuple{Pair: e.Pair, Timeframe: e.Timeframe}
}

// SignalState is the persisted last-known signal of a tuple.
// Version increments on every committed write and guards concurrent updates.
type SignalState struct {
	Pair           string    `json:"pair"`
	Timeframe      Timeframe `json:"timeframe"`
	CurrentSignal  Signal    `json:"current_signal"`
	LastChangedAt  time.Time `json:"last_changed_at"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
	Version        int64     `json:"version"`
}

// Tuple returns the (pair, timeframe) the state belongs to.
func (s SignalState) Tuple() Tuple {
	return Tuple{Pair: s.Pair, Timeframe: s.Timeframe}
}

// NormalizePair converts "eurusd", "EUR_USD" or "eur/usd" into "EUR/USD".
func NormalizePair(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("/", "", "_", "", "-", "", " ", "").Replace(s)
	if len(s) != 6 {
		return "", fmt.Errorf("invalid pair %q", raw)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid pair %q", raw)
		}
	}
	return s[:3] + "/" + s[3:], nil
}
