package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"FxAlert/internal/domain/models"
)

func signalMarker(s models.Signal) string {
	switch s {
	case models.SignalBuy:
		return "🟢"
	case models.SignalSell:
		return "🔴"
	default:
		return "⚪"
	}
}

func strengthMarker(s models.Strength) string {
	switch s {
	case models.StrengthStrong:
		return "🔥"
	case models.StrengthModerate:
		return "⚡"
	default:
		return "·"
	}
}

// RenderEvent formats a change notification.
func RenderEvent(ev models.SignalEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s signal: %s (%s)\n", signalMarker(ev.NewSignal), strings.ToUpper(string(ev.NewSignal)), ev.Pair, ev.Timeframe)
	fmt.Fprintf(&b, "Changed: %s → %s\n", strings.ToUpper(string(ev.OldSignal)), strings.ToUpper(string(ev.NewSignal)))
	fmt.Fprintf(&b, "Confidence: %.0f%% %s %s\n", ev.Confidence*100, strengthMarker(ev.Strength), ev.Strength)
	if ev.MarketCondition != "" {
		fmt.Fprintf(&b, "Market: %s\n", ev.MarketCondition)
	}
	if f := topFactors(ev.Factors, 3); f != "" {
		fmt.Fprintf(&b, "Drivers: %s\n", f)
	}
	fmt.Fprintf(&b, "At: %s UTC", ev.CreatedAt.UTC().Format("2006-01-02 15:04"))
	return b.String()
}

// RenderState formats the stored state of a tuple for the signal command.
func RenderState(st models.SignalState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s: %s\n", signalMarker(st.CurrentSignal), st.Pair, st.Timeframe, strings.ToUpper(string(st.CurrentSignal)))
	if !st.LastChangedAt.IsZero() {
		fmt.Fprintf(&b, "Since: %s UTC", st.LastChangedAt.UTC().Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderSubscriptions lists subscriptions for the subscriptions command.
func RenderSubscriptions(subs []models.Subscription) string {
	if len(subs) == 0 {
		return "You have no subscriptions. Use /subscribe to add one."
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:")
	for _, s := range subs {
		filter := s.Filter.SignalType
		if filter == "" {
			filter = models.FilterAll
		}
		fmt.Fprintf(&b, "\n• %s %s (%s", s.Pair, s.Timeframe, filter)
		if s.Filter.MinConfidence > 0 {
			fmt.Fprintf(&b, ", ≥%.0f%%", s.Filter.MinConfidence*100)
		}
		b.WriteString(")")
	}
	return b.String()
}

func topFactors(f map[string]float64, n int) string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := math.Abs(f[keys[i]]), math.Abs(f[keys[j]])
		if ai != aj {
			return ai > aj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %+.2f", k, f[k])
	}
	return strings.Join(parts, ", ")
}
