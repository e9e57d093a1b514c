package backlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/qamatch/internal/embed"
	"github.com/Aman-CERP/qamatch/internal/runlock"
	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// Runner defaults.
const (
	DefaultWorkers  = 4
	maxBaseMetaRune = 200
)

// RunnerConfig configures one expansion run.
type RunnerConfig struct {
	MaxRows int // base phrases per run (default: 350)
	PerItem int // variants requested per phrase (default: 12)
	Workers int // concurrent phrases (default: 4)

	// LockPath, when set, keeps two runs from expanding at once.
	LockPath string
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.PerItem <= 0 {
		c.PerItem = DefaultPerItem
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Progress is reported after each base phrase.
type Progress struct {
	Done   int
	Total  int
	Failed int
	Last   string
}

// Report summarises a run.
type Report struct {
	RunID    string        `json:"run_id"`
	Selected int           `json:"selected"`
	Expanded int           `json:"expanded"`
	Failed   int           `json:"failed"`
	Marked   int           `json:"marked"`
	Inserted int           `json:"inserted"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// Runner expands the backlog: paraphrase, embed, insert, then mark done.
// A phrase is marked only after its entries were written, so a failed or
// interrupted phrase stays in the backlog for the next run.
type Runner struct {
	selector    *Selector
	paraphraser Paraphraser
	embedder    embed.Embedder
	entries     store.EntryWriter
	cfg         RunnerConfig

	metrics  *telemetry.Metrics
	progress func(Progress)
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics records inserted paraphrases and marked phrases.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithProgress receives a Progress after every phrase. It is called from
// worker goroutines, one call at a time.
func WithProgress(fn func(Progress)) RunnerOption {
	return func(r *Runner) { r.progress = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates an expansion runner.
func NewRunner(selector *Selector, paraphraser Paraphraser, embedder embed.Embedder, entries store.EntryWriter, cfg RunnerConfig, opts ...RunnerOption) (*Runner, error) {
	if selector == nil || paraphraser == nil || embedder == nil || entries == nil {
		return nil, fmt.Errorf("backlog runner: nil dependency")
	}
	r := &Runner{
		selector:    selector,
		paraphraser: paraphraser,
		embedder:    embedder,
		entries:     entries,
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run expands up to MaxRows backlog phrases. Individual phrase failures
// are counted and logged; only selection, locking or cancellation fail
// the run.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if r.cfg.LockPath != "" {
		lock, err := runlock.Acquire(r.cfg.LockPath)
		if err != nil {
			return Report{}, err
		}
		defer func() { _ = lock.Unlock() }()
	}

	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	logger := r.logger.With(slog.String("run_id", report.RunID))

	items, err := r.selector.SelectBacklog(ctx, r.cfg.MaxRows)
	if err != nil {
		return report, err
	}
	report.Selected = len(items)
	logger.Info("paraphrase expansion started",
		slog.Int("selected", len(items)),
		slog.Int("per_item", r.cfg.PerItem),
		slog.Int("workers", r.cfg.Workers))
	if len(items) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	pool, err := ants.NewPool(r.cfg.Workers)
	if err != nil {
		return report, err
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	record := func(item Item, res store.InsertResult, marked bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if err != nil {
			report.Failed++
			logger.Warn("paraphrase expansion failed",
				slog.String("base_hash", item.BaseHash),
				slog.String("error", err.Error()))
		} else {
			report.Expanded++
			report.Inserted += res.Inserted
			report.Skipped += res.Skipped
			if marked {
				report.Marked++
			}
		}
		if r.progress != nil {
			r.progress(Progress{Done: done, Total: len(items), Failed: report.Failed, Last: item.SearchText})
		}
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			res, marked, err := r.expand(ctx, item)
			record(item, res, marked, err)
		})
		if submitErr != nil {
			wg.Done()
			record(item, store.InsertResult{}, false, submitErr)
		}
	}
	wg.Wait()

	report.Duration = time.Since(start)
	logger.Info("paraphrase expansion finished",
		slog.Int("expanded", report.Expanded),
		slog.Int("failed", report.Failed),
		slog.Int("inserted", report.Inserted),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// expand handles one base phrase.
func (r *Runner) expand(ctx context.Context, item Item) (store.InsertResult, bool, error) {
	lang := strings.ToLower(strings.TrimSpace(item.Language))
	if lang == "" {
		lang = "ru"
	}
	base := textnorm.StripBullet(item.SearchText)

	variants, err := r.paraphraser.Paraphrase(ctx, base, lang, r.cfg.PerItem)
	if err != nil {
		return store.InsertResult{}, false, err
	}

	var res store.InsertResult
	entries := BuildEntries(item.AnswerID, lang, base, variants)
	if len(entries) > 0 {
		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = e.SearchText
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return res, false, err
		}
		for i := range entries {
			entries[i].Embedding = vecs[i]
		}
		if res, err = r.entries.InsertEntries(ctx, entries); err != nil {
			return res, false, err
		}
	}

	marked, err := r.selector.MarkDone(ctx, item.BaseHash)
	if err != nil {
		return res, false, err
	}
	r.metrics.RecordExpansion(res.Inserted, marked)
	return res, marked, nil
}

// BuildEntries turns paraphrases of base into index entries. Variants equal
// to the base (ignoring case) or repeating another variant's hash are
// dropped.
func BuildEntries(answerID int64, lang, base string, variants []string) []store.IndexEntry {
	baseLower := strings.ToLower(base)
	baseMeta := textnorm.Truncate(base, maxBaseMetaRune)

	out := make([]store.IndexEntry, 0, len(variants))
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		v = textnorm.StripBullet(v)
		if v == "" || strings.ToLower(v) == baseLower {
			continue
		}
		hash := textnorm.PhraseHash(answerID, v)
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, store.IndexEntry{
			AnswerID:   answerID,
			Language:   lang,
			SearchText: v,
			SearchHash: hash,
			Meta: map[string]any{
				store.MetaSource: store.SourceParaphrase,
				store.MetaBase:   baseMeta,
			},
		})
	}
	return out
}
