package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/lead"
	"github.com/dgnsrekt/leadfeed/internal/quote"
)

// Config configures an HTTPClient.
type Config struct {
	BaseURL       string
	QuoteTimeout  time.Duration
	SubmitTimeout time.Duration
	ResyncTimeout time.Duration
	MaxAttempts   int
	Backoff       Backoff
	RatePerSecond float64
	Burst         int
	ScenarioID    string
}

// RuntimeConfig is the backend's release and feature flags.
type RuntimeConfig struct {
	Release      string `json:"release"`
	FeatureFlags struct {
		Uploads     bool `json:"uploads"`
		AdvisorFeed bool `json:"advisorFeed"`
	} `json:"featureFlags"`
}

// Event is a client-reported analytics event.
type Event struct {
	EventType string         `json:"eventType"`
	Step      int            `json:"step,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Submission outcome with the number of attempts it took.
type SubmitOutcome struct {
	lead.Result
	Attempts int `json:"attempts"`
}

// HTTPClient talks to the backend's JSON API. Quote and submit calls go
// through a Retrier; resync is a single bounded attempt.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	cfg        Config
	clock      Clock
	rng        Rand
	logger     *zap.Logger
}

type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption { return func(c *HTTPClient) { c.httpClient = hc } }

func WithClock(clock Clock) HTTPOption { return func(c *HTTPClient) { c.clock = clock } }

func WithRand(rng Rand) HTTPOption { return func(c *HTTPClient) { c.rng = rng } }

func NewHTTPClient(cfg Config, logger *zap.Logger, opts ...HTTPOption) *HTTPClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = SubmitBackoff
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	c := &HTTPClient{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(limit, burst),
		cfg:        cfg,
		clock:      RealClock(),
		rng:        DefaultRand(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root without a trailing slash.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) retrier(timeout time.Duration, observe func(RetryNotice)) *Retrier {
	opts := []RetryOption{WithRetryClock(c.clock), WithRetryRand(c.rng)}
	if observe != nil {
		opts = append(opts, WithRetryObserver(observe))
	}
	return NewRetrier(RetryPolicy{
		MaxAttempts: c.cfg.MaxAttempts,
		Timeout:     timeout,
		Backoff:     c.cfg.Backoff,
	}, c.logger, opts...)
}

// RuntimeConfig fetches the release and feature flags.
func (c *HTTPClient) RuntimeConfig(ctx context.Context) (RuntimeConfig, error) {
	var out RuntimeConfig
	ctx, cancel := withTimeout(ctx, c.cfg.QuoteTimeout)
	defer cancel()
	err := c.do(ctx, http.MethodGet, "/api/runtime-config", nil, nil, &out)
	return out, err
}

// Quote fetches a rate quote with retries.
func (c *HTTPClient) Quote(ctx context.Context, p quote.Params) (quote.Quote, error) {
	query := url.Values{}
	query.Set("zip", p.Zip)
	query.Set("creditRange", p.CreditRange)
	query.Set("homeValue", strconv.FormatFloat(p.HomeValue, 'f', -1, 64))
	query.Set("currentBalance", strconv.FormatFloat(p.CurrentBalance, 'f', -1, 64))

	var out quote.Quote
	_, err := c.retrier(c.cfg.QuoteTimeout, nil).Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/panels/rate-quote", query, nil, &out)
	})
	return out, err
}

// Submit posts sub with retries. An empty idempotency key is filled with a
// fresh UUID and the same key is sent on every attempt.
func (c *HTTPClient) Submit(ctx context.Context, sub *lead.Submission, observe func(RetryNotice)) (SubmitOutcome, error) {
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = uuid.NewString()
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("encoding submission: %w", err)
	}

	var out lead.Result
	attempts, err := c.retrier(c.cfg.SubmitTimeout, observe).Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/leads/submit", nil, body, &out)
	})
	if err != nil {
		return SubmitOutcome{Attempts: attempts}, err
	}
	return SubmitOutcome{Result: out, Attempts: attempts}, nil
}

// Resync fetches the catch-up snapshot after seq.
func (c *HTTPClient) Resync(ctx context.Context, after uint64) (availability.Event, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.ResyncTimeout)
	defer cancel()
	query := url.Values{}
	query.Set("after", strconv.FormatUint(after, 10))

	var ev availability.Event
	if err := c.do(ctx, http.MethodGet, "/api/advisor-availability/resync", query, nil, &ev); err != nil {
		return availability.Event{}, err
	}
	return ev, nil
}

// ReportEvent posts a client event. Callers usually ignore the error.
func (c *HTTPClient) ReportEvent(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	ctx, cancel := withTimeout(ctx, c.cfg.QuoteTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/api/client-events", nil, body, nil)
}

// withTimeout bounds ctx by d; zero leaves it unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.ScenarioID != "" {
		req.Header.Set("X-Scenario-Id", c.cfg.ScenarioID)
	}

	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", u))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	// Read body before closing for error messages
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var vf struct {
			Errors map[string]map[string]string `json:"errors"`
		}
		_ = json.Unmarshal(raw, &vf)
		return &ValidationError{Errors: vf.Errors}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode, Body: string(raw)}
		if se.Retryable() {
			return se
		}
		return &PermanentError{Status: resp.StatusCode, Err: se}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &PermanentError{Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
