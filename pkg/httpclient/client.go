// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides a retrying HTTP client for provider APIs.
//
// The client retries rate-limited and transient server failures with
// exponential backoff, honoring provider rate-limit headers when a
// header parser is configured.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how a failed request is retried.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota

	// ConservativeRetry retries a couple of times with short fixed
	// delays. Used for transient server errors.
	ConservativeRetry

	// SmartRetry retries with provider-informed delays (Retry-After,
	// reset timestamps), falling back to exponential backoff with
	// jitter. Used for rate limits.
	SmartRetry
)

// conservativeAttempts caps retries under ConservativeRetry.
const conservativeAttempts = 2

// RateLimitInfo carries rate-limit hints parsed from response headers.
type RateLimitInfo struct {
	// RetryAfter is the provider-requested wait before retrying.
	RetryAfter time.Duration

	// ResetTime is the Unix timestamp when the limit window resets.
	ResetTime int64

	// RequestsRemaining in the current window, -1 when unknown.
	RequestsRemaining int

	// TokensRemaining in the current window, -1 when unknown.
	TokensRemaining int
}

// HeaderParser extracts rate-limit info from provider response headers.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc maps an HTTP status code to a retry strategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with retry behavior.
type Client struct {
	client    *http.Client
	retries   int
	baseDelay time.Duration
	parser    HeaderParser
	strategy  StrategyFunc
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMaxRetries sets the maximum number of retries per request.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBaseDelay sets the base backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithHeaderParser sets the provider rate-limit header parser.
func WithHeaderParser(p HeaderParser) Option {
	return func(c *Client) { c.parser = p }
}

// WithRetryStrategy replaces the status-code-to-strategy mapping.
func WithRetryStrategy(f StrategyFunc) Option {
	return func(c *Client) { c.strategy = f }
}

// WithLogger sets the logger used for retry messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a retrying client with sane defaults: 60s request
// timeout, 5 retries, 2s base delay.
func New(opts ...Option) *Client {
	c := &Client{
		client:    &http.Client{Timeout: 60 * time.Second},
		retries:   5,
		baseDelay: 2 * time.Second,
		strategy:  DefaultRetryStrategy,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy retries rate limits smartly and transient
// server errors conservatively.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	}
	return NoRetry
}

// Do executes the request, retrying per the configured strategy.
// The request context bounds the total time including backoff sleeps.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport errors are not retried; the caller sees them as-is.
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		var info RateLimitInfo
		if c.parser != nil {
			info = c.parser(resp.Header)
		}
		strategy := c.strategy(resp.StatusCode)
		lastResp, lastErr = resp, fmt.Errorf("HTTP %d", resp.StatusCode)

		if strategy == NoRetry {
			return resp, lastErr
		}

		delay := c.delayFor(strategy, attempt, info)
		if delay <= 0 || attempt >= c.retries {
			break
		}

		resp.Body.Close()
		c.logger.Warn("retrying request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max_attempts", c.retries)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return lastResp, &RetryableError{
		StatusCode: statusCodeOf(lastResp),
		Message:    fmt.Sprintf("max retries (%d) exceeded", c.retries),
		Err:        lastErr,
	}
}

// delayFor computes the wait before the next attempt, zero meaning
// give up.
func (c *Client) delayFor(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
				return until
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(backoff) * 0.1)
		return backoff + jitter

	case ConservativeRetry:
		if attempt >= conservativeAttempts {
			return 0
		}
		return time.Duration(2+attempt) * time.Second
	}
	return 0
}

func statusCodeOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
