// Package zulip implements the REST client against a Zulip server: basic
// auth per identity, rate limiting, retries, response normalization, the
// narrow-filter builder, and a small read cache.
package zulip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/retry"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
)

const (
	streamCacheTTL = 10 * time.Minute
	userCacheTTL   = 15 * time.Minute
)

// PayloadCache persists fetched list payloads (JSON) across restarts.
// The store implements it; the client treats it as best-effort.
type PayloadCache interface {
	CachedPayload(ctx context.Context, scope, key string, maxAge time.Duration) (string, bool)
	PutCachedPayload(ctx context.Context, scope, key, payload string) error
	InvalidateCacheScope(ctx context.Context, scope string) error
}

// Options configures the client.
type Options struct {
	// Site is the server base URL, e.g. https://chat.example.com.
	Site string
	// Timeout bounds each HTTP call. Long-polls override it per call.
	Timeout time.Duration
	// RatePerMinute and RateBurst shape the per-identity token bucket.
	RatePerMinute int
	RateBurst     int
	// Retry configures transient-failure retries.
	Retry retry.Config
	// MaxIdleConns and MaxConns bound the shared connection pool.
	MaxIdleConns int
	MaxConns     int
	// Persist, when set, backs the in-memory read cache with durable
	// rows so listings stay warm across restarts.
	Persist PayloadCache
}

// DefaultOptions returns production defaults.
func DefaultOptions(site string) Options {
	return Options{
		Site:          site,
		Timeout:       30 * time.Second,
		RatePerMinute: 100,
		RateBurst:     10,
		Retry:         retry.DefaultConfig(),
		MaxIdleConns:  10,
		MaxConns:      20,
	}
}

// Client is the shared HTTPS client. All calls authenticate with the
// credential bundle passed per call; the limiter buckets are per identity.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client

	limitMu  sync.Mutex
	limiters map[identity.Kind]*rate.Limiter

	cache   *ttlCache
	persist PayloadCache
	logger  *logger.Logger
	metrics *telemetry.Metrics
}

// New builds a client for the site.
func New(opts Options, log *logger.Logger, metrics *telemetry.Metrics) (*Client, error) {
	base := strings.TrimRight(opts.Site, "/")
	if base == "" {
		return nil, fmt.Errorf("zulip site URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 100
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	transport := &http.Transport{
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		MaxConnsPerHost:     opts.MaxConns,
	}
	return &Client{
		opts:     opts,
		baseURL:  base + "/api/v1",
		http:     &http.Client{Transport: transport},
		limiters: make(map[identity.Kind]*rate.Limiter),
		cache:    newTTLCache(),
		persist:  opts.Persist,
		logger:   log,
		metrics:  metrics,
	}, nil
}

// limiter returns the token bucket for an identity, creating it on first
// use.
func (c *Client) limiter(kind identity.Kind) *rate.Limiter {
	c.limitMu.Lock()
	defer c.limitMu.Unlock()
	l, ok := c.limiters[kind]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(c.opts.RatePerMinute)/60.0), c.opts.RateBurst)
		c.limiters[kind] = l
	}
	return l
}

// apiResponse is the normalized reply envelope every endpoint shares.
type apiResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`
}

// callOpts tweaks a single request.
type callOpts struct {
	// timeout overrides the default per-call timeout; used by long-polls.
	timeout time.Duration
	// noRetry disables the retry wrapper; used by long-polls where the
	// caller owns recovery (queue re-registration).
	noRetry bool
	// contentType and body override the form encoding; used by uploads.
	contentType string
	body        io.Reader
}

// call performs one authenticated request and decodes the envelope. The
// returned bytes are the full response body for the endpoint to unmarshal
// into its typed result.
func (c *Client) call(ctx context.Context, creds identity.Credentials, method, path string, params url.Values, opt *callOpts) ([]byte, error) {
	if opt == nil {
		opt = &callOpts{}
	}

	var body []byte
	attempt := func() error {
		b, err := c.doOnce(ctx, creds, method, path, params, opt)
		if err != nil {
			return classifyForRetry(err)
		}
		body = b
		return nil
	}

	if opt.noRetry {
		if err := attempt(); err != nil {
			return nil, unwrapRetryMarkers(err)
		}
		return body, nil
	}

	result := retry.Do(ctx, c.opts.Retry, attempt)
	if result.Err != nil {
		if result.Attempts > 1 {
			c.logger.Warn("request failed after retries",
				zap.String("path", path),
				zap.Int("attempts", result.Attempts),
				zap.Error(result.Err))
		}
		return nil, unwrapRetryMarkers(result.Err)
	}
	return body, nil
}

// doOnce performs a single HTTP round trip with rate limiting and maps the
// status code to the error taxonomy.
func (c *Client) doOnce(ctx context.Context, creds identity.Credentials, method, path string, params url.Values, opt *callOpts) ([]byte, error) {
	if err := c.limiter(creds.Kind).Wait(ctx); err != nil {
		return nil, err
	}

	timeout := c.opts.Timeout
	if opt.timeout > 0 {
		timeout = opt.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.baseURL + path
	var reqBody io.Reader
	contentType := ""
	switch {
	case opt.body != nil:
		reqBody = opt.body
		contentType = opt.contentType
	case method == http.MethodGet || method == http.MethodDelete:
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	default:
		reqBody = strings.NewReader(params.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.Email, creds.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.HTTPRequest(ctx, path, string(creds.Kind), time.Since(start))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	var envelope apiResponse
	_ = json.Unmarshal(body, &envelope)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Msg: envelope.Msg}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{Msg: envelope.Msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfter(resp), Msg: envelope.Msg}
	case resp.StatusCode >= 500:
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", envelope.Msg)}
	case envelope.Result == "error":
		return nil, &APIError{Code: envelope.Code, Msg: envelope.Msg}
	case resp.StatusCode >= 400:
		return nil, &APIError{Msg: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
	}
	return body, nil
}

// classifyForRetry marks permanent errors so the retry loop stops, and
// attaches Retry-After hints for rate limits.
func classifyForRetry(err error) error {
	switch e := err.(type) {
	case *RateLimitError:
		return retry.After(err, e.RetryAfter)
	case *TransientError:
		return err
	default:
		return retry.Permanent(err)
	}
}

// unwrapRetryMarkers strips the retry wrappers so callers see the typed
// client error.
func unwrapRetryMarkers(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := u.Unwrap()
		switch inner.(type) {
		case *AuthError, *NotFoundError, *RateLimitError, *TransientError, *APIError:
			return inner
		}
		if inner == nil {
			return err
		}
		err = inner
	}
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 2 * time.Second
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 2 * time.Second
}

// decode unmarshals body into out, reporting decoding problems with the
// endpoint name.
func decode(body []byte, path string, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// CacheStats exposes hit/miss counts for observability.
func (c *Client) CacheStats() (hits, misses uint64) {
	return c.cache.stats()
}
