package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/qamatch/internal/embed"
	"github.com/Aman-CERP/qamatch/internal/search"
)

// Evaluation modes.
const (
	ModeVector        = "vector"
	ModeHybrid        = "hybrid"
	ModeHybridRewrite = "hybrid_rewrite"
)

// Harness defaults.
const (
	DefaultTopK    = 20
	DefaultWorkers = 4
)

// Retriever is the subset of the search engine the harness runs.
type Retriever interface {
	EvalVector(ctx context.Context, embedding []float32, topK int) ([]search.Scored, error)
	EvalHybrid(ctx context.Context, text string, embedding []float32, topK int) ([]search.Scored, error)
}

// Config configures a run.
type Config struct {
	TopK    int           // results per query (default: 20)
	Policy  RewritePolicy // used only with a rewriter (default: followup_only)
	Workers int           // concurrent questions (default: 4)
}

// ModeResult holds one mode's per-row ranks and predictions, aligned with
// Report.Rows.
type ModeResult struct {
	Mode    string    `json:"mode"`
	Ranks   []int     `json:"-"`
	Preds   [][]int64 `json:"-"`
	Summary Summary   `json:"summary"`
}

// Report is the outcome of one evaluation run.
type Report struct {
	RunID     string        `json:"run_id"`
	TopK      int           `json:"top_k"`
	Policy    RewritePolicy `json:"rewrite_policy,omitempty"`
	Rows      []Row         `json:"-"`
	Modes     []ModeResult  `json:"modes"`
	Rewritten int           `json:"rewritten"`
	Duration  time.Duration `json:"duration_ns"`
}

// Mode returns the result for name, or nil.
func (r *Report) Mode(name string) *ModeResult {
	for i := range r.Modes {
		if r.Modes[i].Mode == name {
			return &r.Modes[i]
		}
	}
	return nil
}

// Progress is reported after each evaluated question.
type Progress struct {
	Done  int
	Total int
}

// Harness runs labeled questions through the retrieval engine.
type Harness struct {
	retriever Retriever
	embedder  embed.Embedder
	rewriter  *Rewriter
	cfg       Config
	progress  func(Progress)
	logger    *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithRewriter adds the hybrid_rewrite mode.
func WithRewriter(r *Rewriter) Option {
	return func(h *Harness) { h.rewriter = r }
}

// WithProgress receives a Progress after every question, one call at a time.
func WithProgress(fn func(Progress)) Option {
	return func(h *Harness) { h.progress = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHarness creates a harness. Zero config fields take their defaults.
func NewHarness(r Retriever, e embed.Embedder, cfg Config, opts ...Option) (*Harness, error) {
	if r == nil || e == nil {
		return nil, fmt.Errorf("eval harness: nil dependency")
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	if err := search.ValidateMatchCount(cfg.TopK); err != nil {
		return nil, err
	}
	if cfg.Policy == "" {
		cfg.Policy = RewriteFollowUpOnly
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	h := &Harness{retriever: r, embedder: e, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Modes lists the modes a run reports, in report order.
func (h *Harness) Modes() []string {
	modes := []string{ModeVector, ModeHybrid}
	if h.rewriter != nil {
		modes = append(modes, ModeHybridRewrite)
	}
	return modes
}

// Run evaluates rows. The first failing question cancels the run.
func (h *Harness) Run(ctx context.Context, rows []Row) (*Report, error) {
	start := time.Now()
	modes := h.Modes()
	report := &Report{
		RunID: uuid.NewString(),
		TopK:  h.cfg.TopK,
		Rows:  rows,
		Modes: make([]ModeResult, len(modes)),
	}
	if h.rewriter != nil {
		report.Policy = h.cfg.Policy
	}
	for i, m := range modes {
		report.Modes[i] = ModeResult{Mode: m, Ranks: make([]int, len(rows)), Preds: make([][]int64, len(rows))}
	}
	logger := h.logger.With(slog.String("run_id", report.RunID))
	logger.Info("evaluation started",
		slog.Int("rows", len(rows)),
		slog.Int("top_k", h.cfg.TopK),
		slog.Any("modes", modes))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := ants.NewPool(h.cfg.Workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		done      int
		rewritten atomic.Int64
	)
	finish := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
				cancel()
			}
			return
		}
		done++
		if h.progress != nil {
			h.progress(Progress{Done: done, Total: len(rows)})
		}
	}

	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			preds, rw, err := h.evalRow(ctx, row)
			if err != nil {
				finish(fmt.Errorf("eval %s: %w", row.QID, err))
				return
			}
			for m := range report.Modes {
				report.Modes[m].Preds[i] = preds[m]
				report.Modes[m].Ranks[i] = RankOf(row.AnswerID, preds[m])
			}
			if rw {
				rewritten.Add(1)
			}
			finish(nil)
		})
		if submitErr != nil {
			wg.Done()
			finish(submitErr)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for m := range report.Modes {
		report.Modes[m].Summary = Summarize(report.Modes[m].Mode, report.Modes[m].Ranks)
	}
	report.Rewritten = int(rewritten.Load())
	report.Duration = time.Since(start)
	for _, m := range report.Modes {
		logger.Info("evaluation mode finished",
			slog.String("mode", m.Mode),
			slog.Float64("recall_at_1", m.Summary.Recall(1)),
			slog.Float64("mrr_at_10", m.Summary.MRR(10)))
	}
	return report, nil
}

// evalRow returns the predictions of every mode for one question, in Modes
// order, and whether the question was rewritten.
func (h *Harness) evalRow(ctx context.Context, row Row) ([][]int64, bool, error) {
	emb, err := h.embedder.Embed(ctx, row.Question)
	if err != nil {
		return nil, false, err
	}
	vec, err := h.retriever.EvalVector(ctx, emb, h.cfg.TopK)
	if err != nil {
		return nil, false, err
	}
	hyb, err := h.retriever.EvalHybrid(ctx, row.Question, emb, h.cfg.TopK)
	if err != nil {
		return nil, false, err
	}
	preds := [][]int64{answerIDs(vec), answerIDs(hyb)}
	if h.rewriter == nil {
		return preds, false, nil
	}

	q, qEmb, rewritten := row.Question, emb, false
	if h.cfg.Policy.Applies(row.Question) {
		if q, err = h.rewriter.Rewrite(ctx, row.Question, row.Lang); err != nil {
			return nil, false, err
		}
		rewritten = true
		if q != row.Question {
			if qEmb, err = h.embedder.Embed(ctx, q); err != nil {
				return nil, false, err
			}
		}
	}
	rw, err := h.retriever.EvalHybrid(ctx, q, qEmb, h.cfg.TopK)
	if err != nil {
		return nil, false, err
	}
	return append(preds, answerIDs(rw)), rewritten, nil
}

func answerIDs(scored []search.Scored) []int64 {
	out := make([]int64, len(scored))
	for i, s := range scored {
		out[i] = s.AnswerID
	}
	return out
}
