// Package fetchclient implements the resilient HTTP access layer: per-host
// rate limiting, retry with exponential backoff, SOCKS routing for
// anonymized-network destinations, browser emulation for the clear web, and
// bounded streaming reads.
package fetchclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/telemetry"
)

const (
	// DefaultMaxResponseBytes caps the streamed body at 10 MB, a guard
	// against memory exhaustion from hostile or malformed pages.
	DefaultMaxResponseBytes = 10 << 20

	readChunkSize = 8 << 10
)

// Config controls Client behavior.
type Config struct {
	Timeout          time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	RateLimitDelay   time.Duration
	RateLimitJitter  time.Duration
	MaxResponseBytes int64
	// SOCKSAddr is the anonymizing proxy endpoint, e.g. "127.0.0.1:9050".
	// Empty disables anonymized-network routing entirely.
	SOCKSAddr string
}

// Request carries per-call options for Fetch.
type Request struct {
	URL     string
	Headers http.Header
	Query   url.Values
	// ForceProxy routes a non-onion URL through the SOCKS proxy anyway.
	ForceProxy bool
}

// Response is the fully buffered result of a fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client issues rate-limited, retried HTTP requests over one of two mutually
// exclusive transports: a browser-emulating direct session for the open web,
// or a SOCKS session for anonymized-network destinations. Onion addresses
// are never sent through the direct transport, and proxied requests never
// receive the anti-bot browser treatment.
type Client struct {
	direct  *http.Client
	proxied *http.Client
	limiter *hostLimiter
	retry   *ExponentialRetryPolicy
	maxBody int64
	logger  *zap.Logger
}

// New constructs a Client from config. The proxied transport is only built
// when a SOCKS address is configured.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.RateLimitJitter <= 0 {
		cfg.RateLimitJitter = 1500 * time.Millisecond
	}

	c := &Client{
		direct: &http.Client{
			Transport: newDirectTransport(cfg.Timeout),
			Timeout:   cfg.Timeout,
		},
		limiter: newHostLimiter(cfg.RateLimitDelay, cfg.RateLimitJitter),
		retry:   NewExponentialRetryPolicy(cfg.MaxRetries+1, cfg.BackoffBase, cfg.BackoffMax),
		maxBody: cfg.MaxResponseBytes,
		logger:  logger,
	}

	if cfg.SOCKSAddr != "" {
		transport, err := newSOCKSTransport(cfg.SOCKSAddr, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		// Onion round-trips routinely take much longer than clear-web
		// ones; give the proxied client double the budget.
		c.proxied = &http.Client{
			Transport: transport,
			Timeout:   2 * cfg.Timeout,
		}
		logger.Info("anonymized routing enabled", zap.String("socks_addr", cfg.SOCKSAddr))
	}

	return c, nil
}

// IsOnion reports whether the URL points into an anonymized network.
func IsOnion(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return strings.Contains(strings.ToLower(rawURL), ".onion")
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".onion")
}

// Fetch performs a GET with rate limiting and retries. Non-2xx statuses
// outside the retryable set surface as *HTTPError; transport failures as
// *NetworkError; oversized bodies as ErrResponseTooLarge.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", req.URL, err)
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	onion := IsOnion(target.String())
	session := c.direct
	if onion || req.ForceProxy {
		if c.proxied == nil {
			return nil, ErrProxyRequired
		}
		session = c.proxied
	}

	host := target.Hostname()
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		if attempt > 0 {
			backoff := c.retry.Backoff(attempt - 1)
			c.logger.Debug("retrying fetch",
				zap.String("url", target.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			telemetry.ObserveFetchRetry(host)
			if err := pause(ctx, backoff); err != nil {
				return nil, err
			}
		}

		waited, err := c.limiter.Wait(ctx, host)
		if err != nil {
			return nil, err
		}
		if waited > 0 {
			telemetry.ObserveRateLimitDelay(host, waited)
		}

		resp, err := c.doOnce(ctx, session, target, req.Headers, onion || req.ForceProxy)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(
	ctx context.Context,
	session *http.Client,
	target *url.URL,
	headers http.Header,
	proxied bool,
) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if proxied {
		// Proxied sessions keep a minimal fingerprint; only the Tor
		// Browser user agent is applied.
		if httpReq.Header.Get("User-Agent") == "" {
			httpReq.Header.Set("User-Agent", userAgents[0])
		}
	} else {
		browserHeaders(httpReq)
	}

	start := time.Now()
	httpResp, err := session.Do(httpReq)
	if err != nil {
		telemetry.ObserveFetch(target.Hostname(), "transport_error", 0)
		return nil, &NetworkError{URL: target.String(), Err: err}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode == http.StatusForbidden || httpResp.StatusCode == http.StatusNotFound {
		// Common signal of anti-bot blocking or endpoint drift; worth an
		// error-level line even though the caller also sees the status.
		c.logger.Error("source rejected request",
			zap.Int("status", httpResp.StatusCode),
			zap.String("url", target.String()),
		)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		telemetry.ObserveFetch(target.Hostname(), fmt.Sprintf("%d", httpResp.StatusCode), 0)
		return nil, &HTTPError{Status: httpResp.StatusCode, URL: target.String()}
	}

	body, err := c.readBounded(httpResp.Body)
	if err != nil {
		return nil, err
	}

	telemetry.ObserveFetch(target.Hostname(), fmt.Sprintf("%d", httpResp.StatusCode), len(body))
	return &Response{
		URL:        target.String(),
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// readBounded consumes the body in fixed-size chunks and aborts once the
// accumulated size passes the cap, before the read completes.
func (c *Client) readBounded(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > c.maxBody {
				return nil, fmt.Errorf("read %d bytes: %w", total, ErrResponseTooLarge)
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, &NetworkError{Err: err}
		}
	}
}
