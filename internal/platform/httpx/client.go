// Package httpx holds the JSON-over-HTTP plumbing shared by the venue,
// embedding and analytics clients: status mapping onto domain errors and a
// bounded retry loop.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// StatusError is a non-2xx response. It unwraps to the domain sentinel that
// matches the status class.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return domain.ErrNotFound
	case e.Code == http.StatusUnauthorized, e.Code == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.Code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.Code >= 500:
		return domain.ErrUpstreamUnavailable
	default:
		return domain.ErrInvalidInput
	}
}

// CheckStatus maps non-2xx HTTP status codes to a *StatusError.
func CheckStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Code: statusCode, Body: string(bytes.TrimSpace(body))}
}

// Client performs JSON requests with per-attempt timeouts and retries.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	headers    map[string]string
	hook       func(*http.Request) error
	logger     *slog.Logger
}

// NewClient creates a Client. Static headers are sent on every request.
func NewClient(policy RetryPolicy, headers map[string]string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{},
		policy:     policy.withDefaults(),
		headers:    headers,
		logger:     logger,
	}
}

// GetJSON issues a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, nil, out)
}

// PostJSON marshals in, POSTs it with extra headers, and decodes into out
// when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, in any, extra map[string]string, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("httpx: marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, extra, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, extra map[string]string, out any) error {
	return Retry(ctx, c.policy, c.logger, func(ctx context.Context) error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		for k, v := range extra {
			req.Header.Set(k, v)
		}
		if c.hook != nil {
			if err := c.hook(req); err != nil {
				return fmt.Errorf("prepare request: %w", err)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transportError(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return transportError(err)
		}
		if err := CheckStatus(resp.StatusCode, respBody); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedUpstreamData, url, err)
		}
		return nil
	})
}

// transportError classifies errors that occur before a status is available.
// Cancellation of the caller's context is passed through unchanged.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

// SetRequestHook installs a function run on every attempt just before the
// request is sent, e.g. to sign it.
func (c *Client) SetRequestHook(hook func(*http.Request) error) {
	c.hook = hook
}

// SetHTTPClient replaces the underlying client (tests, custom transports).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Policy returns the effective retry policy.
func (c *Client) Policy() RetryPolicy { return c.policy }

// sleepFor is replaced in tests.
var sleepFor = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
