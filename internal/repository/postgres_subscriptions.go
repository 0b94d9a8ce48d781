package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"FxAlert/internal/domain/models"
)

// SubscriptionSchema creates the subscriptions table.
var SubscriptionSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		recipient_id   TEXT NOT NULL,
		pair           TEXT NOT NULL,
		timeframe      TEXT NOT NULL,
		signal_type    TEXT NOT NULL DEFAULT 'all',
		min_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (recipient_id, pair, timeframe)
	)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_tuple_idx ON subscriptions (pair, timeframe, created_at)`,
}

// pgConn is the part of *pgxpool.Pool the store uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ pgConn = (*pgxpool.Pool)(nil)

// PGSubscriptionStore implements SubscriptionStore on Postgres.
type PGSubscriptionStore struct {
	db pgConn
}

func NewPGSubscriptionStore(pool *pgxpool.Pool) *PGSubscriptionStore {
	return &PGSubscriptionStore{db: pool}
}

const subscriptionCols = `recipient_id, pair, timeframe, signal_type, min_confidence, created_at`

func (s *PGSubscriptionStore) Upsert(ctx context.Context, sub models.Subscription) error {
	const q = `INSERT INTO subscriptions (recipient_id, pair, timeframe, signal_type, min_confidence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recipient_id, pair, timeframe)
		DO UPDATE SET signal_type = EXCLUDED.signal_type, min_confidence = EXCLUDED.min_confidence`
	signalType := sub.Filter.SignalType
	if signalType == "" {
		signalType = models.FilterAll
	}
	if _, err := s.db.Exec(ctx, q, sub.RecipientID, sub.Pair, string(sub.Timeframe),
		string(signalType), sub.Filter.MinConfidence); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *PGSubscriptionStore) Delete(ctx context.Context, recipientID string, t models.Tuple) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM subscriptions WHERE recipient_id = $1 AND pair = $2 AND timeframe = $3`,
		recipientID, t.Pair, string(t.Timeframe))
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGSubscriptionStore) ListByTuple(ctx context.Context, t models.Tuple) ([]models.Subscription, error) {
	return s.query(ctx, `SELECT `+subscriptionCols+` FROM subscriptions
		WHERE pair = $1 AND timeframe = $2 ORDER BY created_at, recipient_id`, t.Pair, string(t.Timeframe))
}

func (s *PGSubscriptionStore) ListByRecipient(ctx context.Context, recipientID string) ([]models.Subscription, error) {
	return s.query(ctx, `SELECT `+subscriptionCols+` FROM subscriptions
		WHERE recipient_id = $1 ORDER BY pair, timeframe`, recipientID)
}

func (s *PGSubscriptionStore) ListAll(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.query(ctx, `SELECT `+subscriptionCols+` FROM subscriptions
		ORDER BY created_at, recipient_id LIMIT $1`, limit)
}

func (s *PGSubscriptionStore) query(ctx context.Context, q string, args ...any) ([]models.Subscription, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	subs, err := pgx.CollectRows(rows, scanSubscription)
	if err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.CollectableRow) (models.Subscription, error) {
	var (
		sub        models.Subscription
		tf, filter string
	)
	err := row.Scan(&sub.RecipientID, &sub.Pair, &tf, &filter, &sub.Filter.MinConfidence, &sub.CreatedAt)
	sub.Timeframe = models.Timeframe(tf)
	sub.Filter.SignalType = models.SignalTypeFilter(filter)
	return sub, err
}
