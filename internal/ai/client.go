// Package ai is a rate-limited client for an Ollama-compatible LLM server
// used to classify, summarise and write SEO copy for videos.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ad-tracker/video-aggregator-go/internal/errorlog"
	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
	"github.com/ad-tracker/video-aggregator-go/internal/ratelimit"
	"github.com/ad-tracker/video-aggregator-go/internal/retry"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultProvider = "ollama"
	maxErrorBody    = 4 << 10
)

// Config holds the configuration for the client.
type Config struct {
	BaseURL     string        // e.g. "http://ollama.internal:11434"
	Model       string        // e.g. "llama3:8b"
	APIKey      string        // optional bearer token
	Provider    string        // rate window identifier, defaults to "ollama"
	Timeout     time.Duration // per attempt, default 60s
	Concurrency int           // in-flight requests, default 1
}

// Client talks to the /api/generate endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	provider   string
	timeout    time.Duration
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    ratelimit.Limiter
	policy     retry.Policy
	sleep      func(context.Context, time.Duration) error
	errors     errorlog.Recorder
	metrics    *metrics.Metrics
	validate   *validator.Validate
	log        *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLimiter consults l before every attempt.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRecorder reports terminal failures to r.
func WithRecorder(r errorlog.Recorder) Option {
	return func(c *Client) { c.errors = r }
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithPolicy replaces the default provider retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHTTPClient replaces the transport used for provider calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithSleep replaces the wait between attempts.
func WithSleep(s func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = s }
}

// NewClient creates a client. Without WithLimiter no local rate window applies.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		provider:   cfg.Provider,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		policy:     retry.ProviderPolicy(),
		sleep:      retry.Sleep,
		errors:     errorlog.Discard{},
		validate:   validator.New(),
		log:        logger.Named("ai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithConcurrency returns a client that shares c's rate window, retry policy
// and sinks but allows n requests in flight on its own.
func (c *Client) WithConcurrency(n int) *Client {
	if n <= 0 {
		n = 1
	}
	cp := *c
	cp.sem = semaphore.NewWeighted(int64(n))
	return &cp
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// generate runs one prompt under the retry policy and returns the raw model text.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var raw string

	policy := c.policy
	policy.Classify = func(err error) retry.Class {
		if ctx.Err() != nil {
			return retry.Fatal
		}
		return retry.DefaultClassify(err)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		out, err := c.attempt(ctx, prompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	},
		retry.WithSleep(c.sleep),
		retry.OnRetry(func(a retry.Attempt) {
			c.metrics.AIRequest(outcomeFor(a.Class))
			c.log.Warn("ai request failed, retrying",
				zap.Int("attempt", a.Number),
				zap.Stringer("class", a.Class),
				zap.Duration("wait", a.Wait),
				zap.Error(a.Err))
		}),
	)
	if err != nil {
		c.metrics.AIRequest(outcomeFor(policy.ClassOf(err)))
		return "", err
	}

	c.metrics.AIRequest("ok")
	return raw, nil
}

func outcomeFor(class retry.Class) string {
	switch class {
	case retry.RateLimited:
		return "rate_limited"
	case retry.Fatal:
		return "fatal"
	default:
		return "retry"
	}
}

func (c *Client) attempt(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		ok, err := c.limiter.Allow(ctx, c.provider)
		if err != nil {
			return "", fmt.Errorf("check rate window: %w", err)
		}
		if !ok {
			return "", &ProviderError{Status: http.StatusTooManyRequests, Message: "local rate window exhausted", Class: retry.RateLimited}
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request to %s: %w", c.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", newProviderError(resp.StatusCode, respBody)
	}

	var envelope generateResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return "", fmt.Errorf("parse %s response: %w", c.provider, err)
	}
	if envelope.Error != "" {
		return "", newProviderError(resp.StatusCode, []byte(envelope.Error))
	}

	return envelope.Response, nil
}

// ProviderError is a non-success answer from the provider.
type ProviderError struct {
	Status  int
	Message string
	Class   retry.Class
}

func newProviderError(status int, body []byte) *ProviderError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	msg := strings.TrimSpace(string(body))
	return &ProviderError{Status: status, Message: msg, Class: classifyStatus(status, msg)}
}

func classifyStatus(status int, msg string) retry.Class {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota"):
		return retry.RateLimited
	case status >= 500, status == http.StatusOK, status == http.StatusRequestTimeout:
		return retry.Transient
	default:
		return retry.Fatal
	}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider returned status %d: %s", e.Status, e.Message)
}

func (e *ProviderError) RetryClass() retry.Class { return e.Class }

// Fatal reports whether retrying cannot help.
func (e *ProviderError) Fatal() bool { return e.Class == retry.Fatal }

// IsRateLimited reports whether err is, or wraps, a rate-limit failure.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class == retry.RateLimited
	}
	var ex *retry.ExhaustedError
	return errors.As(err, &ex) && ex.Class == retry.RateLimited
}
