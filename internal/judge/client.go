package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/statement-crawler/internal/policy/retry"
)

// DefaultUserAgent mirrors a current desktop Edge build; several judges
// reject obvious automation agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36 Edg/143.0.0.0"

// ClientConfig controls how listing requests are issued.
type ClientConfig struct {
	UserAgent     string
	Timeout       time.Duration
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMax      time.Duration
	RatePerSecond float64
}

// Client issues listing requests through a colly collector, throttled per
// host and retried per the configured policy.
type Client struct {
	base    *colly.Collector
	policy  retry.Policy
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewClient builds a Client. A non-positive RatePerSecond disables throttling.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}

	c := colly.NewCollector(colly.Async(false), colly.UserAgent(cfg.UserAgent))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = 0
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())

	return &Client{
		base:    c,
		policy:  retry.NewExponential(cfg.MaxAttempts, cfg.RetryBase, cfg.RetryMax),
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RatePerSecond, Burst: 1}),
		logger:  logger,
	}
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, headers)
}

// PostJSON posts payload encoded as JSON and returns the response body.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return c.do(ctx, http.MethodPost, url, body, headers)
}

// GetJSON fetches url and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers http.Header, out any) error {
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := decodeJSON(body, out); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	return nil
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers http.Header) ([]byte, error) {
	var out []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return err
		}
		var err error
		out, err = c.once(ctx, method, url, body, headers)
		return err
	}, func(attempt int, err error) {
		c.logger.Warn("listing request failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, headers http.Header) ([]byte, error) {
	collector := c.base.Clone()
	collector.AllowURLRevisit = true

	var (
		result   []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if body == nil {
			done <- collector.Request(method, url, nil, nil, headers)
			return
		}
		done <- collector.Request(method, url, bytes.NewReader(body), nil, headers)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("listing request canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
