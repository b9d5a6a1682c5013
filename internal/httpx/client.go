// Package httpx is the shared JSON-over-HTTP transport for external market
// data and security APIs. Every request passes a per-client rate limiter and
// a circuit breaker; throttling and server errors are retried with jitter.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"buywatch/internal/observability"
)

// ErrCircuitOpen is returned while the client's circuit breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Options configures a Client.
type Options struct {
	Name            string // metrics label and breaker name
	BaseURL         string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxResponseSize int64
	Headers         map[string]string
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// DefaultOptions returns defaults for an API client.
func DefaultOptions(name, baseURL string) Options {
	return Options{
		Name:            name,
		BaseURL:         baseURL,
		Timeout:         10 * time.Second,
		RatePerSecond:   10,
		Burst:           20,
		MaxRetries:      2,
		BaseDelay:       300 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024,
	}
}

// Client performs rate-limited, circuit-broken JSON GET requests.
type Client struct {
	name            string
	baseURL         string
	httpClient      *http.Client
	limiter         *rate.Limiter
	breaker         *gobreaker.CircuitBreaker
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	maxResponseSize int64
	headers         map[string]string
	logger          *zap.Logger
}

// New creates a client from opts. Zero values fall back to DefaultOptions.
func New(opts Options) *Client {
	def := DefaultOptions(opts.Name, opts.BaseURL)
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = def.RatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = def.MaxResponseSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Client errors such as 404 say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("circuit breaker state change",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		name:            opts.Name,
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		httpClient:      opts.HTTPClient,
		limiter:         rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		breaker:         breaker,
		maxRetries:      opts.MaxRetries,
		baseDelay:       opts.BaseDelay,
		maxDelay:        opts.MaxDelay,
		maxResponseSize: opts.MaxResponseSize,
		headers:         opts.Headers,
		logger:          opts.Logger,
	}
}

// GetJSON issues GET baseURL+path?query and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	start := time.Now()
	body, err := c.getWithRetry(ctx, target)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordExternalRequest(c.name, outcome, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	err := retry(ctx, c.maxRetries, c.baseDelay, c.maxDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, target)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return fmt.Errorf("%w: %s", ErrCircuitOpen, c.name)
			}
			return err
		}
		body = res.([]byte)
		return nil
	})
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("client", c.name),
			zap.String("url", target),
			zap.Error(err))
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}
