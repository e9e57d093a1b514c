package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// DefaultRerankTopN is how many fused rows a reranker sees by default.
const DefaultRerankTopN = 20

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine answers retrieval requests. It is safe for concurrent use; no
// state is shared between requests apart from the optional collectors.
type Engine struct {
	vector  CandidateSource
	lexical CandidateSource
	config  Config

	reranker   Reranker
	rerankTopN int

	metrics      *telemetry.Metrics
	queryMetrics *telemetry.QueryMetrics
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithReranker reorders the first topN hybrid rows with r.
// topN <= 0 uses DefaultRerankTopN.
func WithReranker(r Reranker, topN int) EngineOption {
	return func(e *Engine) {
		e.reranker = r
		e.rerankTopN = topN
	}
}

// WithMetrics records request counters and latency.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithQueryMetrics records query text telemetry, including unanswered
// queries.
func WithQueryMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.queryMetrics = m
	}
}

// NewEngine creates an engine over a vector and a lexical source.
func NewEngine(vector, lexical CandidateSource, cfg Config, opts ...EngineOption) (*Engine, error) {
	if vector == nil {
		return nil, fmt.Errorf("%w: vector source", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical source", ErrNilDependency)
	}

	e := &Engine{
		vector:  vector,
		lexical: lexical,
		config:  cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rerankTopN <= 0 {
		e.rerankTopN = DefaultRerankTopN
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// lane is one source's role in a request.
type lane struct {
	role   string
	source CandidateSource
	weight float64
	cap    float64
}

// VectorMatch returns answers nearest to the embedding; score equals
// similarity. matchCount 0 uses the configured default.
func (e *Engine) VectorMatch(ctx context.Context, embedding []float32, matchCount int) ([]Result, error) {
	start := time.Now()
	results, degraded, err := e.vectorMatch(ctx, embedding, matchCount)
	e.observe(ModeVector, "", start, results, degraded, err)
	return results, err
}

// LexicalMatch returns answers by trigram similarity; score is the trigram
// similarity capped at 1.
func (e *Engine) LexicalMatch(ctx context.Context, text string, matchCount int) ([]Result, error) {
	start := time.Now()
	results, degraded, err := e.lexicalMatch(ctx, text, matchCount)
	e.observe(ModeLexical, text, start, results, degraded, err)
	return results, err
}

// HybridMatch fuses vector and lexical candidates:
//
//	score = 0.8*similarity + 0.2*min(1, trigram)
//
// When one source fails or times out the other's candidates are used
// alone. A configured reranker then reorders the top rows.
func (e *Engine) HybridMatch(ctx context.Context, text string, embedding []float32, matchCount int) ([]Result, error) {
	start := time.Now()
	results, degraded, err := e.hybridMatch(ctx, text, embedding, matchCount)
	if err == nil && e.reranker != nil {
		results = e.rerank(ctx, text, results)
	}
	e.observe(ModeHybrid, text, start, results, degraded, err)
	return results, err
}

// EvalVector scores the topK answers of a vector match.
func (e *Engine) EvalVector(ctx context.Context, embedding []float32, topK int) ([]Scored, error) {
	if err := ValidateMatchCount(topK); err != nil {
		return nil, err
	}
	results, _, err := e.vectorMatch(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}
	return toScored(results), nil
}

// EvalHybrid scores the topK answers of a hybrid match, before reranking.
func (e *Engine) EvalHybrid(ctx context.Context, text string, embedding []float32, topK int) ([]Scored, error) {
	if err := ValidateMatchCount(topK); err != nil {
		return nil, err
	}
	results, _, err := e.hybridMatch(ctx, text, embedding, topK)
	if err != nil {
		return nil, err
	}
	return toScored(results), nil
}

func (e *Engine) vectorMatch(ctx context.Context, embedding []float32, matchCount int) ([]Result, bool, error) {
	if err := ValidateEmbedding(embedding, e.config.Dimensions); err != nil {
		return nil, false, err
	}
	count, err := resolveCount(matchCount, e.config.MatchCount)
	if err != nil {
		return nil, false, err
	}
	return e.retrieve(ctx, Query{Embedding: embedding}, count, []lane{
		{role: SourceVector, source: e.vector, weight: 1},
	})
}

func (e *Engine) lexicalMatch(ctx context.Context, text string, matchCount int) ([]Result, bool, error) {
	text, err := ValidateText(text, e.config.MaxQueryRunes)
	if err != nil {
		return nil, false, err
	}
	count, err := resolveCount(matchCount, e.config.MatchCount)
	if err != nil {
		return nil, false, err
	}
	return e.retrieve(ctx, Query{Text: text}, count, []lane{
		{role: SourceLexical, source: e.lexical, weight: 1, cap: 1},
	})
}

func (e *Engine) hybridMatch(ctx context.Context, text string, embedding []float32, matchCount int) ([]Result, bool, error) {
	text, err := ValidateText(text, e.config.MaxQueryRunes)
	if err != nil {
		return nil, false, err
	}
	if err := ValidateEmbedding(embedding, e.config.Dimensions); err != nil {
		return nil, false, err
	}
	count, err := resolveCount(matchCount, e.config.MatchCount)
	if err != nil {
		return nil, false, err
	}
	return e.retrieve(ctx, Query{Text: text, Embedding: embedding}, count, []lane{
		{role: SourceVector, source: e.vector, weight: VectorWeight},
		{role: SourceLexical, source: e.lexical, weight: LexicalWeight, cap: 1},
	})
}

// retrieve queries every lane concurrently under the request timeout and
// fuses whatever succeeded. A failed lane contributes an empty list; the
// request fails only when every lane failed. degraded reports a partial
// failure.
func (e *Engine) retrieve(ctx context.Context, q Query, count int, lanes []lane) (results []Result, degraded bool, err error) {
	rctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	limit := count * e.config.CandidateMultiplier
	candidates := make([][]Candidate, len(lanes))
	errs := make([]error, len(lanes))

	g, gctx := errgroup.WithContext(rctx)
	for i, l := range lanes {
		g.Go(func() error {
			candidates[i], errs[i] = l.source.Candidates(gctx, q, limit)
			return nil // a failed source must not cancel the others
		})
	}
	_ = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}

	lists := make([]RankedList, len(lanes))
	var failures []error
	for i, l := range lanes {
		lists[i] = RankedList{Source: l.role, Weight: l.weight, Cap: l.cap}
		if errs[i] != nil {
			failures = append(failures, e.sourceFailed(l.role, errs[i]))
			continue
		}
		lists[i].Candidates = candidates[i]
	}

	if len(failures) == len(lanes) {
		return nil, false, qaerrors.New(qaerrors.ErrCodeAllSourcesUnavailable,
			"all candidate sources failed", errors.Join(failures...))
	}
	for i, l := range lanes {
		if errs[i] != nil {
			e.metrics.RecordDegraded(l.role)
			slog.Warn("search degraded to surviving sources",
				slog.String("source", l.role),
				slog.String("error", errs[i].Error()))
		}
	}

	return Fuse(lists, count), len(failures) > 0, nil
}

func (e *Engine) sourceFailed(role string, err error) error {
	e.metrics.RecordSourceFailure(role)
	if _, ok := qaerrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return qaerrors.New(qaerrors.ErrCodeSourceUnavailable, role+" source timed out", err)
	}
	return qaerrors.New(qaerrors.ErrCodeSourceUnavailable, role+" source failed", err)
}

// rerank reorders the top rows. Any reranker failure or an invalid
// permutation keeps the fused order.
func (e *Engine) rerank(ctx context.Context, query string, results []Result) []Result {
	n := min(e.rerankTopN, len(results))
	if n < 2 {
		return results
	}
	order, err := e.reranker.Rerank(ctx, query, BuildFeatures(query, results[:n]))
	if err == nil {
		var top []Result
		top, err = ApplyPermutation(results[:n], order)
		if err == nil {
			return append(top, results[n:]...)
		}
	}
	slog.Warn("rerank failed, keeping fused order", slog.String("error", err.Error()))
	return results
}

func (e *Engine) observe(mode Mode, text string, start time.Time, results []Result, degraded bool, err error) {
	latency := time.Since(start)
	status := telemetry.StatusOK
	switch {
	case qaerrors.IsValidation(err):
		status = telemetry.StatusInvalid
	case err != nil:
		status = telemetry.StatusError
	case degraded:
		status = telemetry.StatusDegraded
	}
	e.metrics.RecordSearch(string(mode), status, len(results), latency)

	if err != nil {
		slog.Debug("search failed",
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()))
		return
	}

	var top float64
	if len(results) > 0 {
		top = results[0].Score
	}
	lang := ""
	if text != "" {
		lang = textnorm.DetectLanguage(text)
	}
	e.queryMetrics.Record(telemetry.QueryEvent{
		Query:       text,
		Mode:        string(mode),
		Language:    lang,
		ResultCount: len(results),
		TopScore:    top,
		Latency:     latency,
		Timestamp:   start,
	})
	slog.Debug("search completed",
		slog.String("mode", string(mode)),
		slog.Int("results", len(results)),
		slog.Float64("top_score", top),
		slog.Duration("latency", latency))
}

func toScored(results []Result) []Scored {
	out := make([]Scored, len(results))
	for i, r := range results {
		out[i] = Scored{AnswerID: r.AnswerID, Score: r.Score}
	}
	return out
}
