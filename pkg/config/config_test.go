package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
detector:
  pairs: [EURUSD]
  timeframes: [1h]
interactions:
  gateway:
    url: ws://localhost:9000/gateway
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Detector.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Detector.Cooldown)
	assert.Equal(t, 3*time.Second, cfg.Interactions.Deadline)
	assert.Equal(t, 500*time.Millisecond, cfg.Interactions.SafetyMargin)
	assert.Equal(t, 3, cfg.Interactions.MaxRetries)
	assert.Equal(t, 15*time.Minute, cfg.Interactions.FollowUpWindow)
	assert.Equal(t, 10, cfg.Dispatcher.RateLimitMax)
	assert.Equal(t, time.Hour, cfg.Dispatcher.DedupTTL)
	assert.Equal(t, "memory", cfg.Bus.Type)
	assert.Equal(t, "async", cfg.Commands.Scheduler)
	assert.False(t, cfg.RedisRequired())
	assert.False(t, cfg.Kafka.Producer.AutoCreate)
}

func TestParseKafkaProducerAutoCreate(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
kafka:
  brokers: [localhost:9092]
  producer:
    auto_create_topics: true
`))
	require.NoError(t, err)
	assert.True(t, cfg.Kafka.Producer.AutoCreate)
	assert.Equal(t, 5, cfg.Kafka.Producer.MaxAttempts)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no pairs": `
detector:
  timeframes: [1h]
interactions:
  gateway: {url: ws://x}
`,
		"bad timeframe": `
detector:
  pairs: [EURUSD]
  timeframes: [2h]
interactions:
  gateway: {url: ws://x}
`,
		"margin exceeds deadline": minimal + `
  deadline: 1s
  safety_margin: 2s
`,
		"kafka without brokers": minimal + `
bus:
  type: kafka
`,
		"postgres without dsn": minimal + `
store:
  subscriptions: postgres
`,
		"http channel without url": minimal + `
channel:
  type: http
`,
		"queue scheduler with local dedup": minimal + `
commands:
  scheduler: queue
`,
		"unknown bus": minimal + `
bus:
  type: nats
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestGatewayRequiredOnlyWhenInteractionsEnabled(t *testing.T) {
	_, err := Parse([]byte(`
detector:
  pairs: [EURUSD]
  timeframes: [1h]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.url")
}

func TestRedisRequired(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
commands:
  scheduler: queue
store:
  dedup: redis
`))
	require.NoError(t, err)
	assert.True(t, cfg.RedisRequired())
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	t.Setenv("FXALERT_PAIRS", "gbpusd, usdjpy")
	t.Setenv("FXALERT_LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "cache:6380")

	cfg, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"gbpusd", "usdjpy"}, cfg.Detector.Pairs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestApplyEnvIgnoresEmpty(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "FXALERT_BUS" {
			return "", true
		}
		return "", false
	})
	assert.Equal(t, "memory", cfg.Bus.Type)
}
