// Package httpretry wraps an HTTP client with bounded retries for provider
// responses that explicitly refuse a request.
//
// Only 429 and 503 are retried: in both cases the provider has not accepted
// the message, so sending again cannot produce a duplicate. Transport errors
// and other 5xx statuses are returned to the caller untouched because the
// request may already have been processed.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries refused requests with capped exponential backoff and jitter.
type Client struct {
	next       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

// New wraps next. A nil next uses an http.Client with a 30s timeout.
// maxRetries <= 0 disables retries.
func New(next Doer, maxRetries int) *Client {
	if next == nil {
		next = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		log:        logger.New("httpretry"),
	}
}

// WithBackoff overrides the backoff bounds.
func (c *Client) WithBackoff(base, max time.Duration) *Client {
	c.baseDelay = base
	c.maxDelay = max
	return c
}

// Do sends req, retrying refused responses. The final response is returned
// as-is so the caller can read its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.next.Do(req)
		if err != nil {
			return nil, err
		}
		if !Refused(resp.StatusCode) || attempt >= c.maxRetries {
			return resp, nil
		}
		if req.Body != nil && req.GetBody == nil {
			return resp, nil
		}

		delay := c.delay(attempt+1, resp.Header.Get("Retry-After"))
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		c.log.Info("provider refused request, retrying",
			"host", req.URL.Host, "status", resp.StatusCode,
			"attempt", attempt+1, "wait", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		}

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: reset body: %w", err)
			}
			req.Body = body
		}
	}
}

// delay honours a numeric Retry-After within maxDelay, otherwise uses full
// jitter over base*2^(attempt-1).
func (c *Client) delay(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > c.maxDelay {
			d = c.maxDelay
		}
		return d
	}
	exp := c.baseDelay << (attempt - 1)
	if exp <= 0 || exp > c.maxDelay {
		exp = c.maxDelay
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// Refused reports whether status means the provider did not accept the
// request and it is safe to send again.
func Refused(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}
