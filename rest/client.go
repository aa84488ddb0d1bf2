// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/lib/netutil"
	"github.com/bureau-foundation/partyline/platform"
)

// DefaultMaxRetries is the 5xx retry budget used by the binary's
// default configuration.
const DefaultMaxRetries = 1

// defaultRateLimitWait is used when a throttling response carries no
// delay anywhere.
const defaultRateLimitWait = time.Second

// defaultMaxRateLimitWait caps how long Do will sleep for a single
// rate limit before giving up and surfacing RateLimited instead.
const defaultMaxRateLimitWait = 2 * time.Minute

// TokenSource resolves and refreshes bearer tokens per session purpose.
// auth.Manager implements it.
type TokenSource interface {
	// AccessToken returns the current access token of the purpose's
	// session, waiting for any in-flight refresh of that session to
	// settle first.
	AccessToken(ctx context.Context, purpose platform.Purpose) (string, error)

	// Refresh replaces the purpose's session. stale is the token the
	// caller saw rejected; if the session has already moved past it,
	// Refresh returns without a network call.
	Refresh(ctx context.Context, purpose platform.Purpose, stale string) error
}

// Config holds configuration for a Client.
type Config struct {
	// HTTPClient performs requests. If nil, a client with a 30 second
	// timeout is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// Clock times rate limit sleeps. If nil, clock.Real().
	Clock clock.Clock

	// MaxRetries is the number of extra attempts after a 5xx response.
	// Zero disables 5xx retries.
	MaxRetries int

	// MaxRateLimitWait caps a single rate limit sleep. A retry-after
	// beyond it is surfaced as RateLimited immediately. Zero means two
	// minutes.
	MaxRateLimitWait time.Duration

	// UserAgent is sent on every request when non-empty.
	UserAgent string

	// Metrics records request outcomes. May be nil.
	Metrics *Metrics
}

// Client executes REST requests with the platform's retry policy.
// Safe for concurrent use.
type Client struct {
	httpClient       *http.Client
	logger           *slog.Logger
	clock            clock.Clock
	maxRetries       int
	maxRateLimitWait time.Duration
	userAgent        string
	metrics          *Metrics

	tokensMu sync.RWMutex
	tokens   TokenSource
}

// NewClient creates a Client.
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	maxWait := config.MaxRateLimitWait
	if maxWait <= 0 {
		maxWait = defaultMaxRateLimitWait
	}
	return &Client{
		httpClient:       httpClient,
		logger:           logger,
		clock:            clk,
		maxRetries:       maxRetries,
		maxRateLimitWait: maxWait,
		userAgent:        config.UserAgent,
		metrics:          config.Metrics,
	}
}

// SetTokenSource installs the source DoAuthenticated resolves tokens
// from. The auth manager is built on top of the Client, so the source
// is installed after construction.
func (c *Client) SetTokenSource(source TokenSource) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	c.tokens = source
}

func (c *Client) tokenSource() TokenSource {
	c.tokensMu.RLock()
	defer c.tokensMu.RUnlock()
	return c.tokens
}

// Do issues an unauthenticated request (or one authenticated by
// Request.Client basic credentials) and decodes a JSON response into
// out when out is non-nil.
func (c *Client) Do(ctx context.Context, request *Request, out any) error {
	return c.do(ctx, request, "", out)
}

// DoAuthenticated issues a request with the bearer token of the given
// session purpose. An invalid or expired token triggers exactly one
// refresh and one retry.
func (c *Client) DoAuthenticated(ctx context.Context, purpose platform.Purpose, request *Request, out any) error {
	source := c.tokenSource()
	if source == nil {
		return fmt.Errorf("rest: no token source configured for %s request to %s", purpose, request.URL)
	}

	token, err := source.AccessToken(ctx, purpose)
	if err != nil {
		return fmt.Errorf("rest: resolving %s token: %w", purpose, err)
	}

	err = c.do(ctx, request, "bearer "+token, out)
	if platform.KindOf(err) != platform.KindTokenExpired {
		return err
	}

	c.logger.Info("access token rejected, refreshing session",
		"purpose", purpose,
		"url", request.URL,
		"error", err,
	)
	c.metrics.retry(retryReasonTokenRefresh)
	if refreshErr := source.Refresh(ctx, purpose, token); refreshErr != nil {
		return fmt.Errorf("rest: refreshing %s session after %w: %w", purpose, err, refreshErr)
	}
	token, err = source.AccessToken(ctx, purpose)
	if err != nil {
		return fmt.Errorf("rest: resolving refreshed %s token: %w", purpose, err)
	}
	return c.do(ctx, request, "bearer "+token, out)
}

// do runs the retry loop for one logical request.
func (c *Client) do(ctx context.Context, request *Request, authorization string, out any) error {
	rateLimitRetried := false
	for attempt := 0; ; attempt++ {
		body, err := c.send(ctx, request, authorization)
		if err == nil {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("rest: decoding response from %s %s: %w", request.Method, request.URL, err)
			}
			return nil
		}

		var apiErr *responseError
		if !errors.As(err, &apiErr) {
			return err
		}

		switch apiErr.Kind() {
		case platform.KindRateLimited:
			if rateLimitRetried {
				return apiErr.APIError
			}
			wait := retryAfter(apiErr, c.clock.Now())
			if wait > c.maxRateLimitWait {
				return apiErr.APIError
			}
			rateLimitRetried = true
			c.metrics.retry(retryReasonRateLimited)
			c.logger.Warn("rate limited, retrying after delay",
				"method", request.Method,
				"url", request.URL,
				"retry_after", wait,
			)
			if err := clock.Sleep(ctx, c.clock, wait); err != nil {
				return fmt.Errorf("rest: waiting out rate limit: %w", err)
			}
			// The rate limit retry does not count against the 5xx budget.
			attempt--
			continue

		case platform.KindTransientServer:
			if attempt < c.maxRetries {
				c.metrics.retry(retryReasonServerError)
				c.logger.Warn("server error, retrying",
					"method", request.Method,
					"url", request.URL,
					"status", apiErr.StatusCode,
					"attempt", attempt+1,
					"max_retries", c.maxRetries,
				)
				continue
			}
		}
		return apiErr.APIError
	}
}

// responseError carries the response header alongside the APIError
// so the retry loop can read Retry-After. Only the APIError escapes.
type responseError struct {
	*platform.APIError
	header http.Header
}

func (e *responseError) Unwrap() error { return e.APIError }

// send performs one HTTP attempt. Non-2xx responses become
// *responseError; transport failures are wrapped plain errors.
func (c *Client) send(ctx context.Context, request *Request, authorization string) ([]byte, error) {
	httpRequest, err := request.build(ctx, authorization, c.userAgent, netutil.AcceptEncoding)
	if err != nil {
		return nil, err
	}

	start := c.clock.Now()
	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.metrics.observe(httpRequest.Method, 0, c.clock.Now().Sub(start))
		return nil, fmt.Errorf("rest: request to %s %s failed: %w", httpRequest.Method, request.URL, err)
	}
	defer response.Body.Close()
	c.metrics.observe(httpRequest.Method, response.StatusCode, c.clock.Now().Sub(start))

	body, err := netutil.ReadResponse(response)
	if err != nil {
		return nil, fmt.Errorf("rest: reading response from %s %s: %w", httpRequest.Method, request.URL, err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return body, nil
	}

	apiErr := &platform.APIError{}
	if len(body) > 0 {
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil {
			// Gateways in front of the services answer with HTML or
			// plain text; keep the raw body as the message.
			apiErr = &platform.APIError{Message: truncate(string(body), 512)}
		}
	}
	apiErr.StatusCode = response.StatusCode
	apiErr.Method = httpRequest.Method
	apiErr.URL = request.URL
	return nil, &responseError{APIError: apiErr, header: response.Header}
}

// retryAfter resolves the rate limit delay: Retry-After header, then
// the structured message variable, then the message text.
func retryAfter(apiErr *responseError, now time.Time) time.Duration {
	if value := strings.TrimSpace(apiErr.header.Get("Retry-After")); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if date, err := http.ParseTime(value); err == nil {
			if wait := date.Sub(now); wait > 0 {
				return wait
			}
			return 0
		}
	}
	if wait, ok := apiErr.RetryAfterHint(); ok {
		return wait
	}
	return defaultRateLimitWait
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
