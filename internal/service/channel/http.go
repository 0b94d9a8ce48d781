package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	domrepo "FxAlert/internal/domain/repository"
	xhttp "FxAlert/pkg/http"
	"FxAlert/pkg/logger"
)

type Config struct {
	BaseURL    string
	Token      string
	RatePerSec float64
	Burst      int
	RetryMax   int
	Backoff    time.Duration
	Timeout    time.Duration
}

// HTTPClient posts messages to {base}/channels/{recipient}/messages.
// A process-wide token bucket keeps the outbound rate under the platform limit.
type HTTPClient struct {
	cfg     Config
	client  *xhttp.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

var _ domrepo.ChannelClient = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config, l *logger.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if l == nil {
		l = logger.Nop()
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Timeout)}
	if cfg.Token != "" {
		opts = append(opts, xhttp.WithHeader("Authorization", "Bearer "+cfg.Token))
	}
	return &HTTPClient{
		cfg:     cfg,
		client:  xhttp.NewClient(opts...),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     l,
	}
}

type messageBody struct {
	Content string `json:"content"`
}

func (c *HTTPClient) Deliver(ctx context.Context, recipientID, message string) error {
	endpoint := fmt.Sprintf("%s/channels/%s/messages", c.cfg.BaseURL, url.PathEscape(recipientID))
	var err error
	var wait time.Duration
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("deliver %s: %w", recipientID, ctx.Err())
			}
		}
		if werr := c.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("deliver %s: rate wait: %w", recipientID, werr)
		}
		err = c.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodPost,
			URL:    endpoint,
			Body:   messageBody{Content: message},
		}, nil)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if !errors.As(err, &se) || !se.Retryable() {
			break
		}
		// the platform's Retry-After wins over the linear backoff
		wait = time.Duration(attempt+1) * c.cfg.Backoff
		if se.RetryAfter > wait {
			wait = se.RetryAfter
		}
		c.log.Debug("channel deliver retry",
			logger.String("recipient_id", recipientID),
			logger.Int("status", se.Code),
			logger.Int("attempt", attempt+1))
	}
	return fmt.Errorf("deliver %s: %w", recipientID, err)
}
