package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FxAlert/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteDue moves up to ARGV[2] retries whose score is <= ARGV[1] back to
// the pending list in one step so that concurrent processes never move the
// same member twice.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

var ErrNotRunning = errors.New("queue not running")

// Stats counts messages per stage.
type Stats struct {
	Pending  int64
	Retrying int64
	Dead     int64
}

// RedisQueue is a list-backed work queue with delayed retries in a sorted
// set and a dead-letter list. Every process may publish; processes with
// registered jobs also consume.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	log    *logger.Logger
	prefix string
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.prefix = prefix }
}

func WithQueueLogger(l *logger.Logger) RedisQueueOption {
	return func(r *RedisQueue) { r.log = l }
}

func WithQueueClock(now func() time.Time) RedisQueueOption {
	return func(r *RedisQueue) { r.now = now }
}

func NewRedisQueue(client *redis.Client, cfg Config, opts ...RedisQueueOption) *RedisQueue {
	cfg.setDefaults()
	r := &RedisQueue{
		client: client,
		cfg:    cfg,
		log:    logger.Nop(),
		prefix: "fxalert:queue",
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a job; a duplicate type is rejected.
func (r *RedisQueue) Register(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.Type()]; dup {
		return fmt.Errorf("job type %q already registered", job.Type())
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
	return nil
}

// Start pings Redis and, when jobs are registered, launches the workers and
// the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if err := r.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	if len(r.jobs) == 0 {
		r.log.Info("redis queue publishing only", logger.String("prefix", r.prefix))
		return nil
	}
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.consume(ctx, i)
	}
	r.wg.Add(1)
	go r.promoteLoop(ctx)

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("jobs", len(r.jobs)),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight handlers.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for queue workers: %w", ctx.Err())
	}
}

// Publish encodes payload and pushes it onto the pending list.
func (r *RedisQueue) Publish(ctx context.Context, msgType string, payload interface{}, opts ...PublishOption) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	consuming := len(r.jobs) > 0
	r.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	if consuming && !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: body, EnqueuedAt: r.now()}
	for _, opt := range opts {
		opt(&msg)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("pending"), data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", msg.ID, err)
	}
	return nil
}

func (r *RedisQueue) consume(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, r.cfg.PopTimeout, r.key("pending")).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		default:
			r.log.Error("brpop", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("drop undecodable message", logger.Error(err))
			continue
		}
		r.handle(ctx, msg)
	}
}

func (r *RedisQueue) handle(ctx context.Context, msg Message) {
	ml := r.log.With(logger.String("id", msg.ID), logger.String("type", msg.Type), logger.Int("attempt", msg.Attempt+1))

	if msg.Expired(r.now()) {
		ml.Warn("message expired before handling")
		msg.LastError = "expired"
		r.deadLetter(msg)
		return
	}

	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		ml.Error("no job for message type")
		msg.LastError = "unknown type"
		r.deadLetter(msg)
		return
	}

	hctx := ctx
	if !msg.ExpiresAt.IsZero() {
		var cancel context.CancelFunc
		hctx, cancel = context.WithDeadline(ctx, msg.ExpiresAt)
		defer cancel()
	}

	start := r.now()
	err := job.Handle(hctx, msg.Payload)
	if err == nil {
		ml.Debug("message handled", logger.Duration("elapsed", r.now().Sub(start)))
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// shutdown interrupted the handler; requeue without spending an attempt
		r.retryAt(msg, r.now())
		return
	}

	msg.Attempt++
	msg.LastError = err.Error()
	if IsPermanent(err) || msg.Attempt >= r.cfg.MaxAttempts {
		ml.Error("message dead-lettered", logger.Error(err))
		r.deadLetter(msg)
		return
	}
	delay := r.cfg.backoff(msg.Attempt)
	ml.Warn("message failed, retrying", logger.Duration("delay", delay), logger.Error(err))
	r.retryAt(msg, r.now().Add(delay))
}

func (r *RedisQueue) retryAt(msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err(); err != nil {
		r.log.Error("zadd retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode dead letter", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.key("dead"), data).Err(); err != nil {
		r.log.Error("lpush dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) promoteLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.RetryPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// PromoteDue moves retries whose time has come back to the pending list.
func (r *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	n, err := promoteDue.Run(ctx, r.client, []string{r.key("retry"), r.key("pending")}, now, 100).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due retries: %w", err)
	}
	return n, nil
}

// Stats returns the current stage sizes.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.key("pending"))
	rt := pipe.ZCard(ctx, r.key("retry"))
	d := pipe.LLen(ctx, r.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: p.Val(), Retrying: rt.Val(), Dead: d.Val()}, nil
}

// DeadLetters returns up to n of the most recent dead-lettered messages.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	raw, err := r.client.LRange(ctx, r.key("dead"), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dead letters: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, s := range raw {
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisQueue) key(stage string) string {
	return r.prefix + ":" + stage
}
