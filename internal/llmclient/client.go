package llmclient

import (
	"context"
	"fmt"
	"time"

	alexerrors "alex/internal/errors"
	"alex/internal/keypool"
	"alex/internal/logging"
)

// Config configures a Client.
type Config struct {
	Credentials []string // LLM_API_KEY_1..N
	Model       string   // e.g. "gemini-2.5-flash", env LLM_MODEL

	MinInterval         time.Duration
	Cooldown            time.Duration
	PostSuccessCooldown time.Duration

	Retry   alexerrors.RetryConfig
	Breaker alexerrors.CircuitBreakerConfig
	Logger  logging.Logger

	// NewProvider overrides provider construction, for tests. Defaults to
	// dialing a real genai client per credential.
	NewProvider func(ctx context.Context, apiKey string) (Provider, error)
}

// Client rotates LLM API credentials through a Key Pool, wraps each call in
// a per-credential circuit breaker, and retries transient provider errors
// with backoff — generalizing the Python GeminiAPIManager's round-robin
// client list plus the teacher's retryClient wrapping into one component.
type Client struct {
	pool      *keypool.Pool
	providers []Provider
	breakers  *alexerrors.CircuitBreakerManager
	retry     alexerrors.RetryConfig
	model     string
	logger    logging.Logger
}

// New dials one provider per credential and wires the Key Pool in front of
// them. ctx bounds provider construction only, not later calls.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.Credentials) == 0 {
		return nil, keypool.ErrNoCredentials
	}
	logger := logging.OrNop(cfg.Logger)

	pool, err := keypool.New(keypool.Config{
		Credentials:         cfg.Credentials,
		MinInterval:         cfg.MinInterval,
		Cooldown:            cfg.Cooldown,
		PostSuccessCooldown: cfg.PostSuccessCooldown,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	newProvider := cfg.NewProvider
	if newProvider == nil {
		newProvider = func(ctx context.Context, apiKey string) (Provider, error) {
			return newGeminiProvider(ctx, apiKey)
		}
	}

	providers := make([]Provider, len(cfg.Credentials))
	for i, key := range cfg.Credentials {
		p, err := newProvider(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("llmclient: construct provider %d: %w", i, err)
		}
		providers[i] = p
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 && retry.BaseDelay == 0 {
		retry = alexerrors.DefaultRetryConfig()
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &Client{
		pool:      pool,
		providers: providers,
		breakers:  alexerrors.NewCircuitBreakerManager(cfg.Breaker, logger),
		retry:     retry,
		model:     model,
		logger:    logger,
	}, nil
}

// Complete acquires a credential from the pool, dispatches the prompt to
// its bound provider behind that credential's circuit breaker, and retries
// transient failures (rotating credentials on each retry) per cfg.Retry.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return alexerrors.RetryWithResultAndLog(ctx, c.retry, func(ctx context.Context) (string, error) {
		acq, err := c.pool.Acquire(ctx)
		if err != nil {
			return "", alexerrors.New(alexerrors.KindLLMTransient, err, "key pool: "+err.Error())
		}

		breaker := c.breakers.Get(fmt.Sprintf("llm-key-%d", acq.Ordinal))
		text, err := alexerrors.ExecuteFunc(breaker, ctx, func(ctx context.Context) (string, error) {
			return c.providers[acq.Ordinal].Generate(ctx, c.model, prompt)
		})
		if err != nil {
			classified := alexerrors.ClassifyLLMError(err)
			if alexerrors.IsOverloadClass(err) {
				c.pool.ReportFailure(acq.Ordinal, err)
			} else {
				c.pool.ReportSuccess(acq.Ordinal)
			}
			return "", classified
		}

		c.pool.ReportSuccess(acq.Ordinal)
		return text, nil
	}, c.logger)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }
