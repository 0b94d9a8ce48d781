package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
	}
	// first attempt stays within [min/2, min]
	d := backoffWithJitter(min, max, 1)
	assert.GreaterOrEqual(t, d, min/2)
	assert.LessOrEqual(t, d, min)
}

func TestHookChainOrderAndPanicSafety(t *testing.T) {
	var calls []string
	first := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			calls = append(calls, "before1")
			return ctx, km, append(data, '1'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { calls = append(calls, "after1") },
	}
	second := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			calls = append(calls, "before2")
			return ctx, km, append(data, '2'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) {
			calls = append(calls, "after2")
			panic("boom")
		},
	}
	chain := NewHookChain(first, nil, second)

	ctx, km, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x12", string(data))

	assert.NotPanics(t, func() { chain.AfterHandle(ctx, "t", km, data, nil) })
	assert.Equal(t, []string{"before1", "before2", "after2", "after1"}, calls)
}

func TestHookChainBeforePanicBecomesError(t *testing.T) {
	var onErr error
	chain := NewHookChain(HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		},
		Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { onErr = err },
	})

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, err, onErr)
}

func TestTraceHookCopiesHeader(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: TraceIDHeader, Value: []byte("evt-1")}}}
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", TraceIDFrom(ctx))
}

func TestNewProducerAndConsumerRequireBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer()
	assert.Error(t, err)
}

func TestNewProducerAutoCreateTopics(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.False(t, p.writer.AllowAutoTopicCreation)
	require.NoError(t, p.Close())

	p, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithAutoCreateTopics(true))
	require.NoError(t, err)
	assert.True(t, p.writer.AllowAutoTopicCreation)
	require.NoError(t, p.Close())
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]string{"pair": "EUR/USD"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pair":"EUR/USD"}`, string(b))

	b, err = encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))
}
