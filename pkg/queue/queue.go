package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Publisher enqueues typed messages for whichever worker process picks them up.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload interface{}, opts ...PublishOption) error
}

// Config sizes the consumer side of a queue.
type Config struct {
	Workers     int           // concurrent handlers per process
	MaxAttempts int           // handler runs before a message is dead-lettered
	RetryBase   time.Duration // first retry delay, doubled per attempt
	RetryMax    time.Duration // retry delay ceiling
	RetryPoll   time.Duration // how often due retries are promoted
	PopTimeout  time.Duration // BRPOP block time per worker loop
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = 30 * c.RetryBase
	}
	if c.RetryPoll <= 0 {
		c.RetryPoll = time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = time.Second
	}
}

// backoff returns the delay before the given retry (1-based).
func (c Config) backoff(retry int) time.Duration {
	d := c.RetryBase
	for i := 1; i < retry && d < c.RetryMax; i++ {
		d *= 2
	}
	if d > c.RetryMax {
		d = c.RetryMax
	}
	return d
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// Expired reports whether the message may no longer be handled.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

type PublishOption func(*Message)

// WithMessageID overrides the generated message id.
func WithMessageID(id string) PublishOption {
	return func(m *Message) { m.ID = id }
}

// ExpiresAt drops the message instead of handling it once t has passed.
func ExpiresAt(t time.Time) PublishOption {
	return func(m *Message) { m.ExpiresAt = t }
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var out T
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
