package grounding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grounded-query/internal/retry"
)

const (
	// DefaultBaseURL is the public generative-language v1beta endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gemini-2.5-flash-preview-09-2025"

	defaultAttemptTimeout = 60 * time.Second
	maxErrorBody          = 64 << 10
)

// Config holds credentials and call limits injected at construction.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Policy.Retryable is ignored; failures are classified by Retryable.
	Policy retry.Policy
	// Timeout bounds a single attempt. The caller's context bounds the whole call.
	Timeout time.Duration
}

// Client is safe for concurrent use; it keeps no state between calls.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	policy   retry.Policy
	http     *http.Client
	sleep    retry.Sleeper
	log      *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithSleeper replaces the backoff sleeper, mainly for tests.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient validates cfg and builds a Client. A missing API key is an ErrAuth.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &APIError{Kind: ErrAuth, Err: fmt.Errorf("api key required")}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAttemptTimeout
	}
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy.MaxAttempts = 1
	}
	if cfg.Policy.Backoff == nil {
		cfg.Policy.Backoff = retry.Exponential(time.Second, 0)
	}
	cfg.Policy.Retryable = Retryable

	c := &Client{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/models/" + url.PathEscape(cfg.Model) + ":generateContent",
		policy:   cfg.Policy,
		http:     &http.Client{Timeout: cfg.Timeout},
		sleep:    retry.SleepContext,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Execute sends req, retrying transient failures per the configured policy.
func (c *Client) Execute(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if c == nil || c.apiKey == "" {
		return QueryResult{}, &APIError{Kind: ErrAuth, Err: fmt.Errorf("api key required")}
	}
	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return QueryResult{}, &APIError{Kind: ErrBadRequest, Err: fmt.Errorf("marshal request: %w", err)}
	}
	c.log.Debug("sending grounded query", "model", c.model, "grounding", req.GroundingEnabled)

	var result QueryResult
	err = c.policy.Do(ctx, c.sleepLogged, func(ctx context.Context, attempt int) error {
		res, err := c.attempt(ctx, body, req.GroundingEnabled)
		if err != nil {
			c.log.Warn("grounded query attempt failed", "attempt", attempt+1, "max_attempts", c.policy.MaxAttempts, "err", err)
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrCancelled) {
			// Cancelled while waiting between attempts.
			return QueryResult{}, &APIError{Kind: ErrCancelled, Err: ctxErr}
		}
		return QueryResult{}, err
	}
	return result, nil
}

func (c *Client) sleepLogged(ctx context.Context, d time.Duration) error {
	c.log.Debug("backing off before retry", "delay", d)
	return c.sleep(ctx, d)
}

func (c *Client) attempt(ctx context.Context, body []byte, grounded bool) (QueryResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(body))
	if err != nil {
		return QueryResult{}, &APIError{Kind: ErrBadRequest, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return QueryResult{}, transportError(ctx, redactKey(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return QueryResult{}, statusError(resp.StatusCode, string(raw))
	}

	// A failed read is a transport failure; only a complete body can be malformed.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return QueryResult{}, transportError(ctx, redactKey(fmt.Errorf("read response: %w", err)))
	}
	var decoded generateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return QueryResult{}, &APIError{Kind: ErrMalformedResponse, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return extract(decoded, grounded), nil
}

// redactKey strips the request URL from transport errors so the key never reaches logs.
func redactKey(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s generateContent: %w", uerr.Op, uerr.Err)
	}
	return err
}
