// Package httpclient provides the HTTP client shared by the seed fetcher and the
// webhook push provider: per-request timeouts, request pacing, and hooks for metrics.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/safetynet-go/internal/errors"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests if not specified.
	DefaultTimeout = 15 * time.Second

	defaultMaxIdleConnsPerHost   = 4
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 10 * time.Second

	defaultUserAgent = "SafetyNet-Go"

	// maxErrorBody bounds how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// Client wraps http.Client with context deadlines, optional pacing and hooks.
// Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	headers        http.Header
	limiter        *rate.Limiter

	hookMu        sync.RWMutex
	afterResponse func(*http.Request, *http.Response, time.Duration, error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is applied when the request context has no deadline.
	DefaultTimeout time.Duration

	UserAgent string

	// Headers are added to every request that does not set them itself.
	Headers map[string]string

	// RateLimit paces requests per second. Zero disables pacing.
	RateLimit float64
	Burst     int

	// Transport replaces the default pooled transport; tests install httpmock here.
	Transport http.RoundTripper
}

// New creates a client. A nil cfg uses defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		}
	}

	headers := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		headers.Set(k, v)
	}

	var limiter *rate.Limiter
	if c.RateLimit > 0 {
		burst := c.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(c.RateLimit), burst)
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		headers:        headers,
		limiter:        limiter,
	}
}

// Do executes req. When ctx has no deadline the default timeout applies. The
// response body must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		// The body outlives Do; cancel once it has been read and closed.
		req = req.WithContext(ctx)
		resp, err := c.do(ctx, req)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return c.do(ctx, req.WithContext(ctx))
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = vs
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	hook := c.afterResponse
	c.hookMu.RUnlock()
	if hook != nil {
		hook(req, resp, time.Since(start), err)
	}

	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, statusError(req, resp)
	}
	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// PostJSON marshals body and POSTs it, discarding the response body.
func (c *Client) PostJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SetAfterResponseHook installs a function called after every round trip, with
// the elapsed time. resp is nil when err is set.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, time.Duration, error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// StatusError is returned for responses with a 4xx or 5xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Retryable reports whether repeating the request could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func statusError(req *http.Request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	u := *req.URL
	u.RawQuery = ""
	return errors.New(&StatusError{
		Method:     req.Method,
		URL:        u.String(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}).
		Component("httpclient").
		Category(errors.CategoryNetwork).
		Context("status", resp.StatusCode).
		Build()
}

// IsRetryable reports whether err is worth retrying: transport failures and
// throttling or server errors are, client errors and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
