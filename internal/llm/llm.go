// Package llm wraps an OpenAI-compatible chat model for the short,
// single-turn completions used by paraphrase expansion and query rewriting.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// Defaults.
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second
)

// Completer produces a completion for one system instruction and one user
// message.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// RequestsPerSecond throttles calls. Zero disables throttling.
	RequestsPerSecond float64

	Retry qaerrors.RetryConfig
}

// DefaultConfig returns the defaults for gpt-4o-mini.
func DefaultConfig() Config {
	return Config{
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
		Retry:   qaerrors.DefaultRetryConfig(),
	}
}

// Client calls a chat model with retry and optional throttling.
type Client struct {
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Completer = (*Client)(nil)

// New creates a client for an OpenAI-compatible endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, qaerrors.ConfigError("OPENAI_API_KEY is not set", nil).
			WithSuggestion("export OPENAI_API_KEY or point base_url at a compatible service")
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, qaerrors.ConfigError("create OpenAI chat client", err)
	}
	return NewWithModel(model, cfg), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		model:  model,
		cfg:    cfg,
		logger: slog.Default().With("component", "llm"),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete implements Completer. Failures after all retries are
// ERR_303_LLM_FAILED; caller cancellation is returned as is.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}

	retry := c.cfg.Retry
	retry.ShouldRetry = func(err error) bool { return !errors.Is(err, context.Canceled) }

	text, err := qaerrors.RetryWithResult(ctx, retry, func() (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.model.GenerateContent(callCtx, content)
		if err != nil {
			c.logger.Debug("completion attempt failed", slog.String("error", err.Error()))
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return strings.TrimSpace(resp.Choices[0].Content), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", qaerrors.New(qaerrors.ErrCodeLLMFailed, "completion failed", err)
	}
	return text, nil
}

// StripCodeFence removes a surrounding markdown code fence, which models
// add to JSON replies despite being told not to.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
