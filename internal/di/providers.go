package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"FxAlert/internal/domain/models"
	"FxAlert/internal/domain/repository"
	domsvc "FxAlert/internal/domain/service"
	"FxAlert/internal/eventbus"
	"FxAlert/internal/handler/api"
	mid "FxAlert/internal/middleware"
	"FxAlert/internal/platform"
	internalrepo "FxAlert/internal/repository"
	"FxAlert/internal/service/channel"
	"FxAlert/internal/service/gateway"
	"FxAlert/internal/service/ratelimit"
	"FxAlert/internal/services/analytics"
	"FxAlert/internal/usecase"
	"FxAlert/pkg/cache"
	pkgch "FxAlert/pkg/clickhouse"
	"FxAlert/pkg/config"
	xhttp "FxAlert/pkg/http"
	pkgkafka "FxAlert/pkg/kafka"
	"FxAlert/pkg/logger"
	"FxAlert/pkg/metrics"
	"FxAlert/pkg/postgres"
	"FxAlert/pkg/queue"
	"FxAlert/pkg/server"
)

// Resources collects what must be closed after the workers stop.
type Resources struct {
	closers []server.Closer
}

func (r *Resources) add(name string, fn func() error) {
	r.closers = append(r.closers, server.Closer{Name: name, Close: fn})
}

func ProvideResources() *Resources { return &Resources{} }

// ProvideLogger creates the zerolog-backed application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("service", cfg.ServiceName), logger.String("env", cfg.Environment)), nil
}

func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func ProvideDomainMetrics(rec *metrics.Recorder) repository.Metrics { return rec }

// ProvideRedisCache connects to Redis when any component is configured to use it.
func ProvideRedisCache(cfg *config.Config, res *Resources) (*cache.RedisCache, error) {
	if !cfg.RedisRequired() {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 5*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	res.add("redis", rc.Close)
	return rc, nil
}

// ProvideClickHouseClient creates a ClickHouse client and the event log schema.
func ProvideClickHouseClient(cfg *config.Config, res *Resources) (*pkgch.Client, error) {
	if cfg.Store.EventLog != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}, internalrepo.EventLogSchema...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	res.add("clickhouse", client.Close)
	return client, nil
}

// ProvidePostgresPool opens the subscription database when configured.
func ProvidePostgresPool(cfg *config.Config, res *Resources) (*pgxpool.Pool, error) {
	if cfg.Store.Subscriptions != "postgres" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool, internalrepo.SubscriptionSchema); err != nil {
		pool.Close()
		return nil, err
	}
	res.add("postgres", func() error { pool.Close(); return nil })
	return pool, nil
}

// ProvideKafkaProducer creates a Kafka producer when the bus or the log
// collector needs one.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, res *Resources) (*pkgkafka.Producer, error) {
	if cfg.Bus.Type != "kafka" && !cfg.Log.Collector.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.Producer.AutoCreate),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	res.add("kafka producer", producer.Close)
	return producer, nil
}

// ProvideKafkaConsumer creates the dispatcher's Kafka consumer when bus.type is kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger, reg *prometheus.Registry) (*pkgkafka.Consumer, error) {
	if cfg.Bus.Type != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	return consumer, nil
}

// LogShipping marks whether error lines are forwarded to Kafka.
type LogShipping bool

// ProvideLogCollector ships aggregated error lines to Kafka when enabled.
func ProvideLogCollector(cfg *config.Config, l *logger.Logger, producer *pkgkafka.Producer, res *Resources) LogShipping {
	if !cfg.Log.Collector.Enabled || producer == nil {
		return false
	}
	l.AddCollector(&logger.CollectionConfig{
		Service:        cfg.ServiceName,
		TimeInterval:   cfg.Log.Collector.Interval,
		CountThreshold: cfg.Log.Collector.CountThreshold,
		Topic:          cfg.Log.Collector.Topic,
		Publisher:      producer,
	})
	res.add("log collector", func() error { l.RemoveCollector(); return nil })
	return true
}

func ProvideEventBus(cfg *config.Config, producer *pkgkafka.Producer, consumer *pkgkafka.Consumer, l *logger.Logger) server.EventBus {
	if cfg.Bus.Type == "kafka" {
		return eventbus.NewKafkaBus(producer, consumer, l)
	}
	return eventbus.NewMemoryBus(
		eventbus.WithBuffer(cfg.Bus.Buffer),
		eventbus.WithRetry(cfg.Bus.RetryMax, cfg.Bus.RetryDelay),
		eventbus.WithLogger(l),
	)
}

func ProvideStateStore(cfg *config.Config, rc *cache.RedisCache) repository.SignalStateStore {
	if cfg.Store.State == "redis" {
		return internalrepo.NewRedisStateStore(rc.Client(), cfg.Redis.Prefix)
	}
	return internalrepo.NewMemoryStateStore()
}

// ProvideDedupStore backs notification dedup, reply guards and interaction claims.
func ProvideDedupStore(cfg *config.Config, rc *cache.RedisCache, res *Resources) repository.DedupStore {
	if cfg.Store.Dedup == "redis" {
		return rc
	}
	mc := cache.NewMemoryCache()
	res.add("memory cache", mc.Close)
	return mc
}

// ProvideMemoryLimiter is non-nil only when rate limiting runs in process.
func ProvideMemoryLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.Store.RateLimit == "redis" {
		return nil
	}
	return ratelimit.New()
}

func ProvideRateLimiter(cfg *config.Config, rc *cache.RedisCache, mem *ratelimit.Limiter) repository.RateLimiter {
	if cfg.Store.RateLimit == "redis" {
		return internalrepo.NewRedisRateLimiter(rc.Client(), cfg.Redis.Prefix)
	}
	return mem
}

func ProvideEventLog(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) repository.EventLog {
	if cfg.Store.EventLog == "clickhouse" {
		return internalrepo.NewCHEventLog(ch, l)
	}
	return internalrepo.NewMemoryEventLog(0)
}

func ProvideSubscriptionStore(cfg *config.Config, pool *pgxpool.Pool) repository.SubscriptionStore {
	if cfg.Store.Subscriptions == "postgres" {
		return internalrepo.NewPGSubscriptionStore(pool)
	}
	return internalrepo.NewMemorySubscriptionStore()
}

// ProvidePredictor creates the HTTP prediction client.
func ProvidePredictor(cfg *config.Config) domsvc.Predictor {
	base := analytics.NewHTTPServiceBase(cfg.Predictor.URL, cfg.Predictor.Timeout)
	return analytics.NewHTTPPredictor(base, cfg.Predictor.Retries)
}

func ProvideChannel(cfg *config.Config, l *logger.Logger) repository.ChannelClient {
	if cfg.Channel.Type == "http" {
		return channel.NewHTTPClient(channel.Config{
			BaseURL:    cfg.Channel.BaseURL,
			Token:      cfg.Channel.Token,
			RatePerSec: cfg.Channel.RatePerSec,
			Burst:      cfg.Channel.Burst,
			RetryMax:   cfg.Channel.RetryMax,
			Timeout:    cfg.Channel.Timeout,
		}, l)
	}
	return channel.NewLogClient(l)
}

// Tuples expands configured pairs and timeframes into tracked tuples.
func Tuples(cfg *config.Config) ([]models.Tuple, error) {
	out := make([]models.Tuple, 0, len(cfg.Detector.Pairs)*len(cfg.Detector.Timeframes))
	seen := make(map[models.Tuple]struct{})
	for _, raw := range cfg.Detector.Pairs {
		pair, err := models.NormalizePair(raw)
		if err != nil {
			return nil, fmt.Errorf("detector.pairs: %w", err)
		}
		for _, tf := range cfg.Detector.Timeframes {
			t := models.Tuple{Pair: pair, Timeframe: models.Timeframe(tf)}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

func ProvideDetector(cfg *config.Config, pred domsvc.Predictor, states repository.SignalStateStore, bus server.EventBus,
	events repository.EventLog, m repository.Metrics, l *logger.Logger) (*usecase.Detector, error) {
	tuples, err := Tuples(cfg)
	if err != nil {
		return nil, err
	}
	return usecase.NewDetector(usecase.DetectorConfig{
		Tuples:         tuples,
		Interval:       cfg.Detector.Interval,
		Cooldown:       cfg.Detector.Cooldown,
		PredictTimeout: cfg.Detector.PredictBudget,
		Parallelism:    cfg.Detector.Parallelism,
		Topic:          cfg.Bus.Topic,
		RunOnStart:     cfg.Detector.RunOnStart,
	}, pred, states, bus, events, m, l.With(logger.Component("detector"))), nil
}

func ProvideDispatcher(cfg *config.Config, subs repository.SubscriptionStore, limiter repository.RateLimiter, dedup repository.DedupStore,
	ch repository.ChannelClient, events repository.EventLog, m repository.Metrics, l *logger.Logger) *usecase.Dispatcher {
	return usecase.NewDispatcher(usecase.DispatcherConfig{
		Topic:           cfg.Bus.Topic,
		RateLimitMax:    cfg.Dispatcher.RateLimitMax,
		RateLimitWindow: cfg.Dispatcher.RateLimitWindow,
		DedupTTL:        cfg.Dispatcher.DedupTTL,
		DeliverTimeout:  cfg.Dispatcher.DeliverTimeout,
		Concurrency:     cfg.Dispatcher.Concurrency,
	}, subs, limiter, dedup, ch, events, m, l.With(logger.Component("dispatcher")))
}

func ProvideIntentRegistry(cfg *config.Config) *usecase.IntentRegistry {
	return usecase.NewIntentRegistry(cfg.Interactions.ClaimTTL, nil)
}

func ProvideResponder(cfg *config.Config) repository.InteractionResponder {
	return platform.NewResponder(cfg.Interactions.Platform.BaseURL, cfg.Interactions.Platform.Token, cfg.Interactions.Deadline)
}

func ProvideAcknowledger(cfg *config.Config, resp repository.InteractionResponder, intents *usecase.IntentRegistry,
	dedup repository.DedupStore, rc *cache.RedisCache, m repository.Metrics, l *logger.Logger) *usecase.Acknowledger {
	ac := usecase.DefaultAckConfig()
	ac.SafetyMargin = cfg.Interactions.SafetyMargin
	ac.MinAttempt = cfg.Interactions.MinAttempt
	ac.MaxRetries = cfg.Interactions.MaxRetries
	ac.FollowUpWindow = cfg.Interactions.FollowUpWindow
	ac.ClaimTTL = cfg.Interactions.ClaimTTL

	opts := []usecase.AckOption{usecase.WithAckMetrics(m)}
	if cfg.Interactions.DistributedClaim {
		opts = append(opts, usecase.WithDistributedClaim(rc))
	}
	return usecase.NewAcknowledger(ac, resp, intents, dedup, l.With(logger.Component("acknowledger")), opts...)
}

func ProvideCommandRouter(states repository.SignalStateStore, subs repository.SubscriptionStore, l *logger.Logger) *usecase.CommandRouter {
	return usecase.NewCommandRouter(states, subs, l.With(logger.Component("commands")))
}

// Commands is the configured command scheduler; exactly one field is set.
type Commands struct {
	Async *usecase.AsyncScheduler
	Queue *queue.RedisQueue
}

// ProvideCommands builds the scheduler selected by commands.scheduler and
// attaches it to the acknowledger.
func ProvideCommands(cfg *config.Config, router *usecase.CommandRouter, ack *usecase.Acknowledger, rc *cache.RedisCache, l *logger.Logger) (Commands, error) {
	if cfg.Commands.Scheduler == "queue" {
		q := queue.NewRedisQueue(rc.Client(), queue.Config{
			Workers:     cfg.Commands.Workers,
			MaxAttempts: 3,
			RetryBase:   500 * time.Millisecond,
			RetryMax:    10 * time.Second,
			RetryPoll:   500 * time.Millisecond,
		}, queue.WithKeyPrefix(cfg.Commands.Queue), queue.WithQueueLogger(l.With(logger.Component("command-queue"))))
		if err := q.Register(usecase.NewCommandJob(router, ack, cfg.Commands.ReplyTimeout, l)); err != nil {
			return Commands{}, err
		}
		ack.SetScheduler(usecase.NewQueueScheduler(q, cfg.Interactions.FollowUpWindow))
		return Commands{Queue: q}, nil
	}
	s := usecase.NewAsyncScheduler(router, ack, cfg.Commands.Workers, cfg.Commands.ReplyTimeout, l)
	ack.SetScheduler(s)
	return Commands{Async: s}, nil
}

func ProvideIntake(cfg *config.Config, ack *usecase.Acknowledger, m repository.Metrics, l *logger.Logger) *mid.Intake {
	return mid.NewIntake(ack, m, mid.WithIntakeLogger(l.With(logger.Component("intake"))))
}

// ProvideGateway is nil when interactions are disabled.
func ProvideGateway(cfg *config.Config, l *logger.Logger) *gateway.Client {
	if !cfg.Interactions.Enabled {
		return nil
	}
	g := cfg.Interactions.Gateway
	return gateway.New(g.URL, cfg.Interactions.Platform.Token, g.ReconnectDelay, g.PingInterval, l.With(logger.Component("gateway")))
}

// ProvideHealthChecks pings every configured backing store.
func ProvideHealthChecks(rc *cache.RedisCache, ch *pkgch.Client, pool *pgxpool.Pool) map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if rc != nil {
		checks["redis"] = rc.Ping
	}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	return checks
}

func ProvideOpsHandler(l *logger.Logger, states repository.SignalStateStore, events repository.EventLog,
	subs repository.SubscriptionStore, checks map[string]api.HealthCheck) *api.OpsHandler {
	return api.NewOpsHandler(l, states, events, subs, checks)
}

func ProvideHTTPServer(cfg *config.Config, h *api.OpsHandler, rec *metrics.Recorder, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, rec.Handler(), reg))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	det *usecase.Detector,
	disp *usecase.Dispatcher,
	bus server.EventBus,
	intake *mid.Intake,
	gw *gateway.Client,
	intents *usecase.IntentRegistry,
	cmds Commands,
	limiter *ratelimit.Limiter,
	srv *xhttp.Server,
	shipping LogShipping,
	res *Resources,
) *server.App {
	if shipping {
		l.Info("error log shipping enabled", logger.String("topic", cfg.Log.Collector.Topic))
	}
	return server.New(cfg, l, server.Components{
		Detector:   det,
		Dispatcher: disp,
		Bus:        bus,
		Intake:     intake,
		Gateway:    gw,
		Intents:    intents,
		Scheduler:  cmds.Async,
		Queue:      cmds.Queue,
		Limiter:    limiter,
		Server:     srv,
		Closers:    res.closers,
	})
}
