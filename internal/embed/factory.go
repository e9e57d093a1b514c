package embed

import (
	"fmt"
	"log/slog"
	"strings"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOpenAI uses the OpenAI embeddings API (default).
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings, for tests and offline runs.
	ProviderStatic ProviderType = "static"
)

// Config selects and tunes an embedder.
type Config struct {
	Provider          ProviderType
	Model             string
	APIKey            string
	BaseURL           string
	BatchSize         int
	RequestsPerSecond float64

	// CacheSize bounds the LRU of query embeddings. Negative disables it.
	CacheSize int
}

// NewEmbedder creates the configured embedder, wrapped in an LRU cache
// unless caching is disabled. Unknown providers are an error; there is no
// silent fallback to static vectors.
func NewEmbedder(cfg Config) (Embedder, error) {
	var embedder Embedder

	switch ProviderType(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI, "":
		oc := DefaultOpenAIConfig()
		oc.APIKey = cfg.APIKey
		oc.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		oc.RequestsPerSecond = cfg.RequestsPerSecond

		e, err := NewOpenAIEmbedder(oc)
		if err != nil {
			return nil, err
		}
		embedder = e

	case ProviderStatic:
		embedder = NewStaticEmbedder(DefaultDimensions)

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want openai or static)", cfg.Provider)
	}

	slog.Debug("embedder created",
		slog.String("provider", string(cfg.Provider)),
		slog.String("model", embedder.ModelName()))

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}
