// Package httpx holds the HTTP plumbing shared by the external integrations.
package httpx

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second
	DefaultTimeout    = 30 * time.Second
)

// RetryTransport retries requests that fail at the transport level or answer
// 429 or a 5xx gateway status, backing off exponentially between attempts.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Backoff    time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *RetryTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sleep := t.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	// A body that cannot be replayed gets exactly one attempt.
	maxRetries := t.MaxRetries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
		resp, err := t.base().RoundTrip(req)
		if attempt >= maxRetries {
			return resp, err
		}
		if err == nil && !retryable(resp.StatusCode) {
			return resp, nil
		}
		if err != nil && req.Context().Err() != nil {
			return nil, err
		}
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err := sleep(req.Context(), t.Backoff<<attempt); err != nil {
			return nil, err
		}
	}
}

// CloseIdleConnections forwards to the base transport.
func (t *RetryTransport) CloseIdleConnections() {
	if ci, ok := t.base().(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LazyClient builds its http.Client on first use. Close drops idle connections
// and the client; the next call builds a fresh one.
type LazyClient struct {
	Timeout time.Duration
	// MaxRetries of 0 uses DefaultMaxRetries; negative disables retries.
	MaxRetries int
	Backoff    time.Duration
	// Base overrides the underlying transport, mostly for tests.
	Base http.RoundTripper

	mu     sync.Mutex
	client *http.Client
}

// Client returns the shared client, creating it if needed.
func (c *LazyClient) Client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = DefaultMaxRetries
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	base := c.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	c.client = &http.Client{
		Timeout:   timeout,
		Transport: &RetryTransport{Base: base, MaxRetries: retries, Backoff: backoff},
	}
	return c.client
}

// Close releases idle connections held by the client.
func (c *LazyClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	c.client.CloseIdleConnections()
	c.client = nil
	return nil
}
