package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is a JSON-over-HTTP client bound to one base URL.
type Client struct {
	baseURL    string
	headers    map[string]string
	maxRetries int
	httpClient *http.Client
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHeaders adds static headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithRetries retries 429 and 5xx responses up to n times with exponential backoff.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{},
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON sends a GET request and decodes the JSON response into dest.
// A nil dest discards the body.
func (c *Client) GetJSON(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

// PostJSON sends body as JSON and decodes the JSON response into dest.
func (c *Client) PostJSON(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, dest)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, dest any) error {
	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoffDelay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dest == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, dest); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		bodyStr := strings.TrimSpace(string(body))
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		}
		return apiErr
	}
	return lastErr
}

// backoffDelay returns the wait before a retry: Retry-After when given, else 100ms doubling.
func backoffDelay(attempt int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<(attempt-1)) * 100 * time.Millisecond
}
