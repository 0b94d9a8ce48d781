package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	pkgch "FxAlert/pkg/clickhouse"
	applogger "FxAlert/pkg/logger"
)

// EventLogSchema creates the event log tables.
var EventLogSchema = []string{
	`CREATE TABLE IF NOT EXISTS signal_events (
		id String,
		pair LowCardinality(String),
		timeframe LowCardinality(String),
		old_signal LowCardinality(String),
		new_signal LowCardinality(String),
		confidence Float64,
		strength LowCardinality(String),
		market_condition String,
		factors Map(String, Float64),
		notify UInt8,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (pair, timeframe, created_at)`,
	`CREATE TABLE IF NOT EXISTS signal_notifications (
		event_id String,
		recipient_id String,
		notified_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (event_id, recipient_id)`,
}

// CHEventLog implements EventLog backed by ClickHouse.
type CHEventLog struct {
	db  *sql.DB
	l   *applogger.Logger
	now func() time.Time
}

func NewCHEventLog(ch *pkgch.Client, l *applogger.Logger) *CHEventLog {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHEventLog{db: ch.DB(), l: l, now: time.Now}
}

func (s *CHEventLog) Record(ctx context.Context, ev models.SignalEvent) error {
	const q = `INSERT INTO signal_events
		(id, pair, timeframe, old_signal, new_signal, confidence, strength, market_condition, factors, notify, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	factors := ev.Factors
	if factors == nil {
		factors = map[string]float64{}
	}
	var notify uint8
	if ev.Notify {
		notify = 1
	}
	_, err := s.db.ExecContext(ctx, q,
		ev.ID, ev.Pair, string(ev.Timeframe), string(ev.OldSignal), string(ev.NewSignal),
		ev.Confidence, string(ev.Strength), ev.MarketCondition, factors, notify, ev.CreatedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse record event error",
			applogger.String("event_id", ev.ID),
			applogger.String("pair", ev.Pair),
			applogger.Error(err),
		)
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (s *CHEventLog) MarkNotified(ctx context.Context, eventID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	now := s.now().UTC()
	values := make([]string, 0, len(recipientIDs))
	args := make([]interface{}, 0, len(recipientIDs)*3)
	for _, id := range recipientIDs {
		values = append(values, "(?, ?, ?)")
		args = append(args, eventID, id, now)
	}
	q := "INSERT INTO signal_notifications (event_id, recipient_id, notified_at) VALUES " + strings.Join(values, ",")
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark notified %s: %w", eventID, err)
	}
	return nil
}

func (s *CHEventLog) History(ctx context.Context, hq domrepo.HistoryQuery) ([]models.SignalEvent, error) {
	start := time.Now()
	q, args := buildHistoryQuery(hq)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	out := make([]models.SignalEvent, 0, 64)
	for rows.Next() {
		var (
			ev                           models.SignalEvent
			tf, oldSig, newSig, strength string
			notify                       uint8
		)
		if err := rows.Scan(&ev.ID, &ev.Pair, &tf, &oldSig, &newSig, &ev.Confidence, &strength,
			&ev.MarketCondition, &ev.Factors, &notify, &ev.CreatedAt, &ev.NotifiedRecipientIDs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timeframe = models.Timeframe(tf)
		ev.OldSignal = models.Signal(oldSig)
		ev.NewSignal = models.Signal(newSig)
		ev.Strength = models.Strength(strength)
		ev.Notify = notify == 1
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse history",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func buildHistoryQuery(hq domrepo.HistoryQuery) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if hq.Pair != "" {
		where = append(where, "e.pair = ?")
		args = append(args, hq.Pair)
	}
	if hq.Timeframe != "" {
		where = append(where, "e.timeframe = ?")
		args = append(args, string(hq.Timeframe))
	}
	if !hq.From.IsZero() {
		where = append(where, "e.created_at >= ?")
		args = append(args, hq.From.UTC())
	}
	if !hq.To.IsZero() {
		where = append(where, "e.created_at <= ?")
		args = append(args, hq.To.UTC())
	}
	limit := hq.Limit
	if limit <= 0 {
		limit = 100
	}

	var b strings.Builder
	b.WriteString(`SELECT e.id, e.pair, e.timeframe, e.old_signal, e.new_signal, e.confidence, e.strength,
		e.market_condition, e.factors, e.notify, e.created_at, n.recipients
	FROM signal_events AS e
	LEFT JOIN (
		SELECT event_id, groupUniqArray(recipient_id) AS recipients
		FROM signal_notifications GROUP BY event_id
	) AS n ON n.event_id = e.id`)
	if len(where) > 0 {
		b.WriteString("\n\tWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\n\tORDER BY e.created_at DESC\n\tLIMIT ?")
	args = append(args, limit)
	return b.String(), args
}
