package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"FxAlert/internal/domain/models"
	"FxAlert/pkg/cache"
)

// RedisStateStore keeps one JSON document per tuple and a set indexing them.
// Writes use WATCH/MULTI so a concurrent writer loses with ErrStateConflict.
type RedisStateStore struct {
	cli    *redis.Client
	prefix string
}

func NewRedisStateStore(cli *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "fxalert"
	}
	return &RedisStateStore{cli: cli, prefix: prefix}
}

func (s *RedisStateStore) key(t models.Tuple) string {
	return cache.GenerateKeyWithParams(s.prefix+":state", t.Pair, string(t.Timeframe))
}

func (s *RedisStateStore) indexKey() string {
	return s.prefix + ":state:index"
}

func (s *RedisStateStore) Get(ctx context.Context, t models.Tuple) (models.SignalState, bool, error) {
	data, err := s.cli.Get(ctx, s.key(t)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SignalState{}, false, nil
	}
	if err != nil {
		return models.SignalState{}, false, fmt.Errorf("redis get state %s: %w", t, err)
	}
	var st models.SignalState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.SignalState{}, false, fmt.Errorf("decode state %s: %w", t, err)
	}
	return st, true, nil
}

func (s *RedisStateStore) CompareAndSwap(ctx context.Context, next models.SignalState, expected int64) (models.SignalState, error) {
	key := s.key(next.Tuple())
	var stored models.SignalState

	txf := func(tx *redis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var st models.SignalState
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("decode state: %w", err)
			}
			current = st.Version
		}
		if current != expected {
			return models.ErrStateConflict
		}

		next.Version = expected + 1
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			p.SAdd(ctx, s.indexKey(), key)
			return nil
		})
		if err == nil {
			stored = next
		}
		return err
	}

	err := s.cli.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, models.ErrStateConflict):
		return models.SignalState{}, models.ErrStateConflict
	default:
		return models.SignalState{}, fmt.Errorf("redis cas state %s: %w", next.Tuple(), err)
	}
}

func (s *RedisStateStore) List(ctx context.Context) ([]models.SignalState, error) {
	keys, err := s.cli.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list states: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget states: %w", err)
	}
	out := make([]models.SignalState, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var st models.SignalState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		out = append(out, st)
	}
	sortStates(out)
	return out, nil
}
