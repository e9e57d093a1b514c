package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/config"
	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/llm"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
)

// app holds the components one command works with.
type app struct {
	cfg      *config.Config
	store    store.Store
	embedder embed.Embedder
	metrics  *telemetry.Metrics
	queries  *telemetry.QueryMetrics
}

// loadConfig loads the configuration for --dir and starts file logging at
// the configured level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.Server.LogLevel)
	return cfg, nil
}

// openApp loads the configuration, opens the store and creates the
// embedder. Callers must Close the app.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		return nil, err
	}

	emb, err := embed.NewEmbedder(embedConfig(cfg))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    st,
		embedder: emb,
		metrics:  telemetry.NewMetrics(),
		queries: telemetry.NewQueryMetricsWithConfig(telemetry.QueryMetricsConfig{
			NoAnswerThreshold: cfg.Search.NoAnswerThreshold,
		}),
	}, nil
}

// Close releases the embedder and the store.
func (a *app) Close() error {
	return errors.Join(a.embedder.Close(), a.store.Close())
}

// engine builds the retrieval engine over the app's store.
func (a *app) engine() (*search.Engine, error) {
	var expander *search.TermExpander
	if a.cfg.Search.ExpandQuery {
		expander = search.NewTermExpander()
	}

	var (
		vector  search.CandidateSource = search.NewVectorSource(a.store)
		lexical search.CandidateSource = search.NewLexicalSource(a.store, expander)
	)
	if n := a.cfg.Search.CircuitMaxFailures; n > 0 {
		reset := qaerrors.WithResetTimeout(a.cfg.CircuitReset())
		vector = search.NewGuardedSource(vector,
			qaerrors.NewCircuitBreaker(search.SourceVector, qaerrors.WithMaxFailures(n), reset))
		lexical = search.NewGuardedSource(lexical,
			qaerrors.NewCircuitBreaker(search.SourceLexical, qaerrors.WithMaxFailures(n), reset))
	}

	opts := []search.EngineOption{
		search.WithMetrics(a.metrics),
		search.WithQueryMetrics(a.queries),
	}
	if a.cfg.Rerank.Enabled {
		opts = append(opts, search.WithReranker(search.NewLinearReranker(rerankWeights(a.cfg)), a.cfg.Rerank.TopN))
	}

	return search.NewEngine(vector, lexical, search.Config{
		MatchCount:          a.cfg.Search.MatchCount,
		CandidateMultiplier: a.cfg.Search.CandidateMultiplier,
		RequestTimeout:      a.cfg.RequestTimeout(),
		Dimensions:          a.embedder.Dimensions(),
	}, opts...)
}

func storeConfig(cfg *config.Config) store.OpenConfig {
	return store.OpenConfig{
		Backend:          cfg.Store.Backend,
		Path:             cfg.Store.Path,
		DSN:              cfg.Store.DSN,
		TrigramThreshold: cfg.Store.TrigramThreshold,
		Dimensions:       store.Dimensions,
		EfSearch:         cfg.Store.EfSearch,
	}
}

func embedConfig(cfg *config.Config) embed.Config {
	return embed.Config{
		Provider:          embed.ProviderType(cfg.Embeddings.Provider),
		Model:             cfg.Embeddings.Model,
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.Embeddings.BaseURL,
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		CacheSize:         cfg.Embeddings.CacheSize,
	}
}

func llmConfig(cfg *config.Config) llm.Config {
	lc := llm.DefaultConfig()
	lc.APIKey = cfg.APIKey
	lc.BaseURL = cfg.Paraphrase.BaseURL
	lc.Model = cfg.Paraphrase.Model
	lc.RequestsPerSecond = cfg.Paraphrase.RequestsPerSecond
	return lc
}

func rerankWeights(cfg *config.Config) search.LinearWeights {
	return search.LinearWeights{
		Intercept: cfg.Rerank.Intercept,
		VectorSim: cfg.Rerank.Weights.VectorSim,
		Trigram:   cfg.Rerank.Weights.TrigramSim,
		Hybrid:    cfg.Rerank.Weights.HybridScore,
	}
}
