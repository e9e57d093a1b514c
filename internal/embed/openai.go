package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration

	// RequestsPerSecond throttles upstream calls. Zero disables throttling.
	RequestsPerSecond float64

	Retry qaerrors.RetryConfig
}

// DefaultOpenAIConfig returns defaults for text-embedding-3-small.
func DefaultOpenAIConfig() OpenAIConfig {
	retry := qaerrors.DefaultRetryConfig()
	retry.MaxRetries = DefaultMaxRetries
	return OpenAIConfig{
		Model:     DefaultModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		Retry:     retry,
	}
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint through
// langchaingo, in batches, with retry and optional rate limiting.
type OpenAIEmbedder struct {
	client  embeddings.Embedder
	cfg     OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for cfg. An empty APIKey is an
// error unless BaseURL points at a local compatible service.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, qaerrors.ConfigError("OPENAI_API_KEY is not set", nil).
			WithSuggestion("export OPENAI_API_KEY or set embeddings.provider: static")
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(modelOrDefault(cfg.Model)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, qaerrors.ConfigError("create OpenAI client", err)
	}

	client, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, qaerrors.ConfigError("create embedder", err)
	}
	return newOpenAIEmbedder(client, cfg), nil
}

// newOpenAIEmbedder wires an existing langchaingo embedder.
func newOpenAIEmbedder(client embeddings.Embedder, cfg OpenAIConfig) *OpenAIEmbedder {
	cfg.Model = modelOrDefault(cfg.Model)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}

	e := &OpenAIEmbedder{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "openai-embedder"),
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e
}

func modelOrDefault(model string) string {
	if model == "" {
		return DefaultModel
	}
	return model
}

// Embed generates the embedding of one query text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request batches of cfg.BatchSize.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	retry := e.cfg.Retry
	retry.ShouldRetry = isTransient

	vecs, err := qaerrors.RetryWithResult(ctx, retry, func() ([][]float32, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		callCtx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		return e.client.EmbedDocuments(callCtx, batch)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("embedding request failed", slog.Int("count", len(batch)), slog.String("error", err.Error()))
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedding request failed", err).
			WithDetail("model", e.cfg.Model)
	}

	if len(vecs) != len(batch) {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding service returned %d vectors for %d texts", len(vecs), len(batch)), nil)
	}
	for _, v := range vecs {
		if len(v) != DefaultDimensions {
			return nil, qaerrors.New(qaerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s returned %d dimensions, expected %d", e.cfg.Model, len(v), DefaultDimensions), nil)
		}
	}
	return vecs, nil
}

// isTransient reports whether an embedding call is worth retrying.
func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Dimensions returns DefaultDimensions; other widths are rejected.
func (e *OpenAIEmbedder) Dimensions() int {
	return DefaultDimensions
}

// ModelName returns the embedding model.
func (e *OpenAIEmbedder) ModelName() string {
	return e.cfg.Model
}

// Available reports whether the embedder is open. There is no cheap
// health probe for the remote API.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
