package analytics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"FxAlert/internal/domain/models"
	xhttp "FxAlert/pkg/http"
)

// HTTPServiceBase centralizes client construction and JSON POST handling
// for the prediction service.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
	backoff time.Duration
}

// NewHTTPServiceBase builds an HTTP client with a timeout ceiling. Callers
// bound each request further through ctx.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &HTTPServiceBase{
		baseURL: baseURL,
		client:  xhttp.NewClient(opts...),
		backoff: 50 * time.Millisecond,
	}
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("prediction http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures up to attempts times in total.
// Transient failures that survive every attempt are wrapped with models.ErrUnavailable.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * b.backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", models.ErrUnavailable, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
}

func transient(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
