// Package httpretry wraps an HTTP client with retries, exponential backoff
// and full jitter. Automation webhooks go through it.
package httpretry

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/leadflow/internal/pkg/logger"
)

// ErrRetriesExhausted is returned when every attempt failed at the network
// level or with a retryable status.
var ErrRetriesExhausted = errors.New("httpretry: retries exhausted")

// HTTPDoer executes HTTP requests. *http.Client and *Client satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries requests that fail with a transient error.
type Client struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDelays sets the base and maximum backoff.
func WithDelays(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

// New wraps client. A nil client becomes an http.Client with a 30s timeout;
// maxRetries <= 0 means 3 retries after the first attempt.
func New(client HTTPDoer, maxRetries int, opts ...Option) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	c := &Client{client: client, maxRetries: maxRetries, baseDelay: time.Second, maxDelay: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying on 429, 5xx gateway errors and transport errors.
// Client errors and context cancellation are not retried. The last
// retryable response is returned as-is so the caller can read it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			return nil, firstErr(lastErr, err)
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}
			delay := c.delay(attempt)
			logger.Debug("retrying request", "component", "httpretry", "method", req.Method,
				"host", req.URL.Host, "attempt", attempt, "max_retries", c.maxRetries, "delay", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, firstErr(lastErr, req.Context().Err())
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
			continue
		}
		if !Retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("%w: last status %d", ErrRetriesExhausted, resp.StatusCode)
	}
	return nil, lastErr
}

// delay is full jitter over min(maxDelay, baseDelay*2^(attempt-1)), floored
// at a tenth of the base delay.
func (c *Client) delay(attempt int) time.Duration {
	exp := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(c.maxDelay) {
		exp = float64(c.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := c.baseDelay / 10; d < floor {
		d = floor
	}
	return d
}

// Retryable reports whether a response status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
