package dracoon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIPrefix is the path prefix for all authenticated REST API calls.
const APIPrefix = "/api/v4"

// Retry policy: base 1s, factor 2x, max 30s, +/-25% jitter, max 5 retries.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// userAgent is sent on every request; version is overridden by the CLI at link time.
var userAgent = "dracoon-go/0.1"

// SetUserAgent overrides the default User-Agent string. Called once from main().
func SetUserAgent(v string) {
	userAgent = v
}

// TokenSource provides the current bearer token for authenticated requests.
// Defined at the consumer per "accept interfaces, return structs" — AuthSession
// satisfies this without the dracoon package importing it.
type TokenSource interface {
	AuthHeader(ctx context.Context) (string, error)
}

// Client is the shared HTTP transport: a single HTTP client with default
// headers, retry on transient errors, and per-call Authorization injection.
// It is safe for concurrent use by many goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc waits between retries; overridden in tests to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. token may be nil for unauthenticated
// (public-share) use — see NewUnauthenticatedClient.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// NewUnauthenticatedClient builds a Client for public share endpoints,
// which never attach an Authorization header.
func NewUnauthenticatedClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return NewClient(baseURL, httpClient, nil, logger)
}

// BaseURL returns the configured API base URL (scheme + host, no path).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an authenticated JSON request against path (relative to
// APIPrefix) with automatic retry on transient errors. The caller must
// close the response body on success. On error returns an *HTTPError
// wrapping a sentinel (use errors.Is to classify).
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.doRetry(ctx, method, APIPrefix+path, body, nil)
}

// DoRaw is like Do but path is used as-is (no APIPrefix prepended) and
// extraHeaders are merged into every attempt, for endpoints outside the
// standard API prefix. The OAuth endpoints do not use it: they sit under
// APIPrefix and are reached through golang.org/x/oauth2 and Session.Revoke.
func (c *Client) DoRaw(
	ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header,
) (*http.Response, error) {
	return c.doRetry(ctx, method, path, body, extraHeaders)
}

// DoPreAuth executes a request against a presigned (pre-authenticated) S3
// URL with the same exponential-backoff retry policy as doRetry, but
// without injecting an Authorization header, APIPrefix, or JSON
// Content-Type — presigned URLs carry their own auth in the query string
// and speak S3's XML error protocol, not the API's JSON one. body, when
// non-nil, is rewound to the start before every attempt, including the
// first; contentLength is set on the request when > 0.
//
// On transient failure this retries up to maxRetries times exactly like
// doRetry; on a non-retryable error status it returns the response
// unconsumed so the caller can decode the S3 XML error body itself.
func (c *Client) DoPreAuth(
	ctx context.Context, method, url string, body io.ReadSeeker, contentLength int64, extraHeaders http.Header,
) (*http.Response, error) {
	var attempt int

	for {
		if body != nil {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("dracoon: rewinding s3 request body for retry: %w", err)
			}
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = body
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("dracoon: building s3 request: %w", err)
		}

		if contentLength > 0 {
			req.ContentLength = contentLength
		}

		req.Header.Set("User-Agent", userAgent)

		for key, vals := range extraHeaders {
			for _, v := range vals {
				req.Header.Add(key, v)
			}
		}

		resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by caller on success, here on retry
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dracoon: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying s3 request after network error",
					slog.String("method", method), slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff), slog.String("error", err.Error()))

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("dracoon: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s %s: %s", ErrConnectionFailed, method, url, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			resp.Body.Close()

			c.logger.Warn("retrying s3 request after HTTP error",
				slog.String("method", method), slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1))

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("dracoon: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return resp, nil
	}
}

func (c *Client) doRetry(
	ctx context.Context, method, path string, body io.Reader, extraHeaders http.Header,
) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		if err := rewindBody(body); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, method, url, body, extraHeaders)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dracoon: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method), slog.String("path", path),
					slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff),
					slog.String("error", err.Error()))

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("dracoon: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s %s: %s", ErrConnectionFailed, method, path, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			resp.Body.Close()

			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1))

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("dracoon: request canceled: %w", err)
			}

			attempt++

			continue
		}

		defer resp.Body.Close()

		return nil, decodeHTTPError(resp.StatusCode, resp.Body)
	}
}

func (c *Client) doOnce(
	ctx context.Context, method, url string, body io.Reader, extraHeaders http.Header,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("dracoon: creating request: %w", err)
	}

	if c.token != nil {
		tok, tokErr := c.token.AuthHeader(ctx)
		if tokErr != nil {
			return nil, fmt.Errorf("dracoon: obtaining auth header: %w", tokErr)
		}

		req.Header.Set("Authorization", tok)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, vals := range extraHeaders {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}

	return c.httpClient.Do(req) //nolint:wrapcheck // wrapped by caller on error
}

// retryBackoff honors a Retry-After header for 429 responses, else falls
// back to calculated exponential backoff.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with +/-25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security sensitive
	backoff += jitter

	return time.Duration(backoff)
}

// rewindBody seeks a seekable body back to offset 0 so retries resend the full payload.
func rewindBody(body io.Reader) error {
	if body == nil {
		return nil
	}

	if seeker, ok := body.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("dracoon: rewinding request body for retry: %w", err)
		}
	}

	return nil
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
