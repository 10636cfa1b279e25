package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
)

// TokenBucket paces outbound calls: capacity refills continuously at
// refillRate tokens per second and each call consumes one token.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and refill
// rate in tokens per second
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryTake consumes one token if available, otherwise returns the wait until
// the next token accrues
func (b *TokenBucket) tryTake() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	return false, wait
}

// Take blocks until a token is available or the context is cancelled
func (b *TokenBucket) Take(ctx context.Context) error {
	for {
		ok, wait := b.tryTake()
		if ok {
			return nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens returns the currently available token count
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Doer abstracts the underlying HTTP transport so tests can substitute one
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UsageFunc is invoked fire-and-forget after each request attempt; failures
// inside it never fail the outer call
type UsageFunc func(method, url string, status int)

// Options configures a RateLimitedClient
type Options struct {
	MaxRetries         int
	BackoffBase        time.Duration
	BackoffCeiling     time.Duration // cap for 429 and network backoff
	ServerErrorCeiling time.Duration // smaller cap for 5xx backoff
	RatePerSecond      float64
	Burst              int
	OnUsage            UsageFunc
}

// RateLimitedClient wraps outbound HTTP with token-bucket pacing,
// exponential-backoff retry on 429/5xx/network errors, and Retry-After
// honoring. 4xx responses other than 429 return immediately as HTTPError for
// the caller to decide. Backoff policy lives here once, not per call-site.
type RateLimitedClient struct {
	client       Doer
	bucket       *TokenBucket
	opts         Options
	requestCount atomic.Int64
}

// NewRateLimitedClient creates a client around the given transport. A nil
// transport uses http.DefaultClient.
func NewRateLimitedClient(client Doer, opts Options) *RateLimitedClient {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = 60 * time.Second
	}
	if opts.ServerErrorCeiling <= 0 {
		opts.ServerErrorCeiling = 30 * time.Second
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}

	return &RateLimitedClient{
		client: client,
		bucket: NewTokenBucket(opts.Burst, opts.RatePerSecond),
		opts:   opts,
	}
}

// RequestCount returns the number of request attempts made by this client
func (c *RateLimitedClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Do sends the request, pacing and retrying per policy. Total attempts are
// MaxRetries+1 with the attempt index starting at 0. The request must carry
// a replayable body (GetBody set), which http.NewRequest does for common
// body types.
func (c *RateLimitedClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.bucket.Take(ctx); err != nil {
			return nil, &models.NetworkError{Cause: err}
		}

		attemptReq, err := c.cloneRequest(ctx, req)
		if err != nil {
			return nil, err
		}

		c.requestCount.Add(1)

		resp, err := c.client.Do(attemptReq)
		c.reportUsage(req.Method, req.URL.String(), resp)

		if err != nil {
			lastErr = &models.NetworkError{Cause: err}
			log.Warn().
				Err(err).
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Msg("Network error on outbound request")

			if attempt < c.opts.MaxRetries {
				if serr := sleepCtx(ctx, backoff(c.opts.BackoffBase, attempt, c.opts.BackoffCeiling)); serr != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr
		}

		switch {
		case resp.StatusCode < 400:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(resp, backoff(c.opts.BackoffBase, attempt, c.opts.BackoffCeiling))
			drainBody(resp)
			lastErr = &models.RateLimitError{Attempts: attempt + 1}

			log.Warn().
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Rate limited by marketplace")

			if attempt < c.opts.MaxRetries {
				if serr := sleepCtx(ctx, delay); serr != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr

		case resp.StatusCode >= 500:
			body := readBodySnippet(resp)
			lastErr = &models.HTTPError{Status: resp.StatusCode, Body: body}

			log.Warn().
				Str("url", req.URL.String()).
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Msg("Server error on outbound request")

			if attempt < c.opts.MaxRetries {
				if serr := sleepCtx(ctx, backoff(c.opts.BackoffBase, attempt, c.opts.ServerErrorCeiling)); serr != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr

		default:
			// 4xx other than 429: not retried, caller decides
			body := readBodySnippet(resp)
			return nil, &models.HTTPError{Status: resp.StatusCode, Body: body}
		}
	}

	return nil, lastErr
}

// cloneRequest produces a fresh request with a replayed body for a retry
func (c *RateLimitedClient) cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	cloned := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, &models.NetworkError{Cause: err}
		}
		cloned.Body = body
	}
	return cloned, nil
}

func (c *RateLimitedClient) reportUsage(method, url string, resp *http.Response) {
	if c.opts.OnUsage == nil {
		return
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Msg("Usage callback panicked")
			}
		}()
		c.opts.OnUsage(method, url, status)
	}()
}

// backoff computes base * 2^attempt capped at ceiling
func backoff(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if attempt > 30 {
		return ceiling
	}
	d := base << uint(attempt)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// retryAfterDelay honors a Retry-After header in seconds, falling back to
// the computed backoff
func retryAfterDelay(resp *http.Response, fallback time.Duration) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func drainBody(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
}

func readBodySnippet(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return ""
	}
	return string(data)
}
