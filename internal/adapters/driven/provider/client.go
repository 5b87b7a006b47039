// Package provider holds the HTTP plumbing shared by the remote embedding
// and LLM adapters: rate limiting and failure classification.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client sends JSON requests to one provider.
type Client struct {
	name    string
	kind    error
	http    *http.Client
	limiter *RateLimiter
}

// NewClient creates a client for the named provider. Every failure it
// returns wraps kind (domain.ErrEmbeddingProvider or domain.ErrGeneration).
// A zero timeout means no client-side timeout, which streaming needs.
func NewClient(name string, kind error, timeout time.Duration, rps float64) *Client {
	return &Client{
		name:    name,
		kind:    kind,
		http:    &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(rps),
	}
}

// Name returns the provider name used in error messages.
func (c *Client) Name() string {
	return c.name
}

// Do waits for the rate limiter and sends req. Non-2xx responses are
// consumed and returned as classified errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w: %s: send request: %w", c.kind, domain.ErrTransient, c.name, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	c.limiter.Observe(resp)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, c.StatusError(resp.StatusCode, body)
}

// PostJSON marshals body and posts it to url with the given headers.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, c.Fail("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, c.Fail("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}

// Get sends a GET to url, for health checks.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return c.Fail("create ping request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// DecodeJSON reads a complete JSON response into v and closes the body.
func (c *Client) DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return c.Fail("decode response: %w", err)
	}
	return nil
}

// StatusError classifies an HTTP failure. Rate limiting and server errors
// are transient.
func (c *Client) StatusError(status int, body []byte) error {
	msg := fmt.Sprintf("%s: status %d: %s", c.name, status, bytes.TrimSpace(body))
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: %w: %s", c.kind, domain.ErrTransient, msg)
	}
	return fmt.Errorf("%w: %s", c.kind, msg)
}

// Fail wraps a permanent failure.
func (c *Client) Fail(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", c.kind, c.name, fmt.Errorf(format, args...))
}

// Transient wraps a failure worth retrying, such as a stream cut mid-way.
// Context errors pass through unchanged.
func (c *Client) Transient(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w: %s: %w", c.kind, domain.ErrTransient, c.name, err)
}
