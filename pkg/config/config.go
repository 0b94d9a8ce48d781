package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`
	ServiceName string `yaml:"service_name" default:"fxalert"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout" validate:"required"`
		// Collector publishes aggregated error lines to Kafka.
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"fxalert.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Detector struct {
		Interval      time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`
		Cooldown      time.Duration `yaml:"cooldown" default:"30m"`
		Parallelism   int           `yaml:"parallelism" default:"4" validate:"gte=1"`
		Pairs         []string      `yaml:"pairs" validate:"required,min=1"`
		Timeframes    []string      `yaml:"timeframes" validate:"required,min=1,dive,oneof=1m 5m 15m 30m 1h 4h 1d"`
		RunOnStart    bool          `yaml:"run_on_start" default:"true"`
		PredictBudget time.Duration `yaml:"predict_budget" default:"10s"`
	} `yaml:"detector"`

	Predictor struct {
		URL     string        `yaml:"url" default:"http://localhost:8000" validate:"required,url"`
		Timeout time.Duration `yaml:"timeout" default:"8s"`
		Retries int           `yaml:"retries" default:"1" validate:"gte=0,lte=5"`
	} `yaml:"predictor"`

	Dispatcher struct {
		RateLimitMax    int           `yaml:"rate_limit_max" default:"10" validate:"gte=1"`
		RateLimitWindow time.Duration `yaml:"rate_limit_window" default:"1h"`
		DedupTTL        time.Duration `yaml:"dedup_ttl" default:"1h"`
		DeliverTimeout  time.Duration `yaml:"deliver_timeout" default:"5s"`
		Concurrency     int           `yaml:"concurrency" default:"8" validate:"gte=1"`
		SweepInterval   time.Duration `yaml:"sweep_interval" default:"1m"`
	} `yaml:"dispatcher"`

	Channel struct {
		Type       string        `yaml:"type" default:"log" validate:"oneof=http log"`
		BaseURL    string        `yaml:"base_url"`
		Token      string        `yaml:"token"`
		RatePerSec float64       `yaml:"rate_per_sec" default:"20"`
		Burst      int           `yaml:"burst" default:"5"`
		RetryMax   int           `yaml:"retry_max" default:"2"`
		Timeout    time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"channel"`

	Interactions struct {
		Enabled        bool          `yaml:"enabled" default:"true"`
		Deadline       time.Duration `yaml:"deadline" default:"3s"`
		SafetyMargin   time.Duration `yaml:"safety_margin" default:"500ms"`
		MinAttempt     time.Duration `yaml:"min_attempt" default:"100ms"`
		MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=5"`
		FollowUpWindow time.Duration `yaml:"follow_up_window" default:"15m"`
		ClaimTTL       time.Duration `yaml:"claim_ttl" default:"15m"`
		// DistributedClaim also claims interaction ids in Redis when several instances share a gateway.
		DistributedClaim bool `yaml:"distributed_claim"`
		Gateway          struct {
			URL            string        `yaml:"url"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		} `yaml:"gateway"`
		Platform struct {
			BaseURL string `yaml:"base_url" default:"http://localhost:9000"`
			Token   string `yaml:"token"`
		} `yaml:"platform"`
	} `yaml:"interactions"`

	Commands struct {
		Scheduler    string        `yaml:"scheduler" default:"async" validate:"oneof=async queue"`
		Queue        string        `yaml:"queue" default:"fxalert:commands"`
		Workers      int           `yaml:"workers" default:"4" validate:"gte=1"`
		ReplyTimeout time.Duration `yaml:"reply_timeout" default:"10s"`
	} `yaml:"commands"`

	Bus struct {
		Type       string        `yaml:"type" default:"memory" validate:"oneof=memory kafka"`
		Topic      string        `yaml:"topic" default:"fxalert.signal-events"`
		Buffer     int           `yaml:"buffer" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"200ms"`
	} `yaml:"bus"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
			AutoCreate   bool          `yaml:"auto_create_topics"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"fxalert-dispatcher"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"100"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"fxalert.signal-events.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Store struct {
		State         string `yaml:"state" default:"memory" validate:"oneof=memory redis"`
		Dedup         string `yaml:"dedup" default:"memory" validate:"oneof=memory redis"`
		RateLimit     string `yaml:"rate_limit" default:"memory" validate:"oneof=memory redis"`
		EventLog      string `yaml:"event_log" default:"memory" validate:"oneof=memory clickhouse"`
		Subscriptions string `yaml:"subscriptions" default:"memory" validate:"oneof=memory postgres"`
	} `yaml:"store"`

	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"20"`
		Prefix   string `yaml:"prefix" default:"fxalert"`
	} `yaml:"redis"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"fxalert"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns" default:"10"`
	} `yaml:"postgres"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.ApplyEnv(os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		return v, ok && v != ""
	}

	if v, ok := get("FXALERT_ENV"); ok {
		c.Environment = v
	}
	if v, ok := get("FXALERT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("FXALERT_PAIRS"); ok {
		c.Detector.Pairs = splitList(v)
	}
	if v, ok := get("FXALERT_TIMEFRAMES"); ok {
		c.Detector.Timeframes = splitList(v)
	}
	if v, ok := get("FXALERT_PREDICTOR_URL"); ok {
		c.Predictor.URL = v
	}
	if v, ok := get("FXALERT_BUS"); ok {
		c.Bus.Type = v
	}
	if v, ok := get("FXALERT_CHANNEL_URL"); ok {
		c.Channel.BaseURL = v
	}
	if v, ok := get("FXALERT_POSTGRES_DSN"); ok {
		c.Postgres.DSN = v
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := get("REDIS_ADDR"); ok {
		host, port, found := strings.Cut(v, ":")
		c.Redis.Host = host
		if found {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v, ok := get("PLATFORM_TOKEN"); ok {
		c.Interactions.Platform.Token = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Interactions.SafetyMargin >= c.Interactions.Deadline {
		return fmt.Errorf("interactions.safety_margin must be shorter than interactions.deadline")
	}
	if c.Bus.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when bus.type is kafka")
	}
	if c.Store.Subscriptions == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when store.subscriptions is postgres")
	}
	if c.Channel.Type == "http" && c.Channel.BaseURL == "" {
		return fmt.Errorf("channel.base_url is required when channel.type is http")
	}
	if c.Interactions.Enabled && c.Interactions.Gateway.URL == "" {
		return fmt.Errorf("interactions.gateway.url is required when interactions are enabled")
	}
	if c.Commands.Scheduler == "queue" && c.Store.Dedup != "redis" {
		return fmt.Errorf("store.dedup must be redis when commands.scheduler is queue")
	}
	if c.Detector.PredictBudget > c.Detector.Interval {
		return fmt.Errorf("detector.predict_budget must not exceed detector.interval")
	}
	return nil
}

// RedisRequired reports whether any component is configured to use Redis.
func (c *Config) RedisRequired() bool {
	return c.Store.State == "redis" || c.Store.Dedup == "redis" || c.Store.RateLimit == "redis" ||
		c.Commands.Scheduler == "queue" || c.Interactions.DistributedClaim
}
