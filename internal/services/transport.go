package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	tokenTypeBearer = "Bearer"
	tokenTypeOAuth  = "OAuth"
)

// TransportOptions configures the HTTP stack shared by all providers.
type TransportOptions struct {
	Proxy          *url.URL
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, <= 0 disables limiting
	Retry          shared.RetryConfig
	Logger         *log.Logger
	// Base is the innermost transport. Defaults to a clone of [http.DefaultTransport].
	Base http.RoundTripper
}

// TransportOptionsFromConfig extracts transport settings from cfg.
func TransportOptionsFromConfig(cfg *shared.Config) (TransportOptions, error) {
	proxy, err := cfg.Remote.ProxyURL()
	if err != nil {
		return TransportOptions{}, err
	}
	return TransportOptions{
		Proxy:          proxy,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimit:      cfg.HTTP.RateLimit,
		Retry:          cfg.Retry,
	}, nil
}

// NewHTTPClient returns a client that authorizes every request with token and
// retries transient failures.
//
// The stack is oauth2.Transport → retryTransport → base transport (with proxy).
func NewHTTPClient(token, tokenType string, opts TransportOptions) *http.Client {
	base := opts.Base
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != nil {
			t.Proxy = http.ProxyURL(opts.Proxy)
		}
		base = t
	}

	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: tokenType}),
			Base:   newRetryTransport(base, opts),
		},
	}
}

// retryTransport waits on the rate limiter before each attempt, bounds each attempt by a
// timeout and retries network errors, 5xx and 429 responses with exponential backoff.
type retryTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	timeout time.Duration
	retry   shared.RetryConfig
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetryTransport(base http.RoundTripper, opts TransportOptions) *retryTransport {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	retry := opts.Retry
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &retryTransport{
		base:    base,
		limiter: rate.NewLimiter(limit, 1),
		timeout: opts.RequestTimeout,
		retry:   retry,
		logger:  logger,
		sleep:   sleepContext,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt < t.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := t.backoff(attempt-1, retryAfter)
			t.logger.Debug("retrying request",
				"method", req.Method,
				"url", req.URL.Redacted(),
				"attempt", attempt+1,
				"max_attempts", t.retry.MaxAttempts,
				"delay", delay,
				"error", lastErr)

			if err := t.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %w", shared.ErrRemote, err)
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", shared.ErrRemote, err)
		}

		attemptReq, cancel, err := t.prepare(req, attempt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v (previous attempt: %v)", shared.ErrRemote, err, lastErr)
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", shared.ErrRemote, ctx.Err())
			}
			lastErr = err
			retryAfter = 0
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			discard(resp)
			cancel()
			return nil, fmt.Errorf("%w: %s %s returned %d", shared.ErrAuth, req.Method, req.URL.Redacted(), resp.StatusCode)
		case retryableStatus(resp.StatusCode):
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			discard(resp)
			cancel()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %s %s failed after %d attempts: %v",
		shared.ErrRemote, req.Method, req.URL.Redacted(), t.retry.MaxAttempts, lastErr)
}

// prepare clones req for one attempt, rewinding the body and attaching the attempt timeout.
func (t *retryTransport) prepare(req *http.Request, attempt int) (*http.Request, context.CancelFunc, error) {
	ctx, cancel := req.Context(), context.CancelFunc(func() {})
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	}

	out := req.Clone(ctx)
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			cancel()
			return nil, nil, fmt.Errorf("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	return out, cancel, nil
}

// backoff returns the delay before retry n (0-based): initial × multiplier^n, capped at max_delay.
// A server supplied Retry-After takes precedence, under the same cap.
func (t *retryTransport) backoff(n int, retryAfter time.Duration) time.Duration {
	delay := time.Duration(float64(t.retry.InitialDelay) * math.Pow(t.retry.Multiplier, float64(n)))
	if retryAfter > 0 {
		delay = retryAfter
	}
	if t.retry.MaxDelay > 0 && delay > t.retry.MaxDelay {
		delay = t.retry.MaxDelay
	}
	return delay
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// discard drains a bounded amount of the body so the connection can be reused.
func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// cancelOnClose releases the attempt context once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
