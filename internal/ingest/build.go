package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/runlock"
	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

const (
	chunkPageSize   = 1000
	answerBatchSize = 500
)

// Build stages.
const (
	StageParse   = "parse"
	StageAnswers = "answers"
	StageIndex   = "index"
)

// Progress reports a build stage's advance.
type Progress struct {
	Stage   string
	Current int
	Total   int
}

// Report summarises a build.
type Report struct {
	RunID    string             `json:"run_id"`
	Chunks   int                `json:"chunks"`
	Parsed   int                `json:"parsed"`
	Answers  store.InsertResult `json:"answers"`
	Entries  store.InsertResult `json:"entries"`
	Duration time.Duration      `json:"duration_ns"`
}

// Store is what a build reads and writes.
type Store interface {
	store.AnswerStore
	store.EntryWriter
	store.ChunkStore
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	BatchSize int              // entries embedded and written per batch (default: 200)
	Aliases   []textnorm.Alias // nil means textnorm.DefaultAliases
	LockPath  string
}

// Builder derives answers and rule-based index entries from staged
// chunks. A build is idempotent: re-running it skips every existing row.
type Builder struct {
	store    Store
	embedder embed.Embedder
	cfg      BuilderConfig
	progress func(Progress)
	logger   *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithProgress receives stage progress.
func WithProgress(fn func(Progress)) BuilderOption {
	return func(b *Builder) { b.progress = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a builder.
func NewBuilder(s Store, e embed.Embedder, cfg BuilderConfig, opts ...BuilderOption) *Builder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.Aliases == nil {
		cfg.Aliases = textnorm.DefaultAliases
	}
	b := &Builder{store: s, embedder: e, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type parsedChunk struct {
	chunkID  int64
	question string
	lang     string
	hash     string
}

// Build parses every staged chunk, writes its answer and the index entries
// of its question.
func (b *Builder) Build(ctx context.Context) (Report, error) {
	if b.cfg.LockPath != "" {
		lock, err := runlock.Acquire(b.cfg.LockPath)
		if err != nil {
			return Report{}, err
		}
		defer func() { _ = lock.Unlock() }()
	}

	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	logger := b.logger.With(slog.String("run_id", report.RunID))

	chunks, err := b.allChunks(ctx)
	if err != nil {
		return report, err
	}
	report.Chunks = len(chunks)

	parsed, answers := parseChunks(chunks)
	report.Parsed = len(parsed)
	b.report(StageParse, len(chunks), len(chunks))
	logger.Info("chunks parsed",
		slog.Int("chunks", len(chunks)),
		slog.Int("parsed", len(parsed)),
		slog.Int("unique_answers", len(answers)))

	for i := 0; i < len(answers); i += answerBatchSize {
		res, err := b.store.InsertAnswers(ctx, answers[i:min(i+answerBatchSize, len(answers))])
		if err != nil {
			return report, err
		}
		report.Answers.Add(res)
		b.report(StageAnswers, min(i+answerBatchSize, len(answers)), len(answers))
	}

	hashes := make([]string, len(answers))
	for i, a := range answers {
		hashes[i] = a.Hash
	}
	ids, err := b.store.AnswerIDsByHash(ctx, hashes)
	if err != nil {
		return report, err
	}
	if missing := len(hashes) - len(ids); missing > 0 {
		return report, qaerrors.InternalError(fmt.Sprintf("%d answers have no id after insert", missing), nil)
	}

	entries := b.buildEntries(parsed, ids)
	for i := 0; i < len(entries); i += b.cfg.BatchSize {
		batch := entries[i:min(i+b.cfg.BatchSize, len(entries))]
		res, err := b.writeEntries(ctx, batch)
		if err != nil {
			return report, err
		}
		report.Entries.Add(res)
		b.report(StageIndex, min(i+b.cfg.BatchSize, len(entries)), len(entries))
	}

	report.Duration = time.Since(start)
	logger.Info("index build finished",
		slog.Int("answers_inserted", report.Answers.Inserted),
		slog.Int("answers_skipped", report.Answers.Skipped),
		slog.Int("entries_inserted", report.Entries.Inserted),
		slog.Int("entries_skipped", report.Entries.Skipped),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (b *Builder) allChunks(ctx context.Context) ([]store.RawChunk, error) {
	var out []store.RawChunk
	for offset := 0; ; offset += chunkPageSize {
		page, err := b.store.ListChunks(ctx, offset, chunkPageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < chunkPageSize {
			return out, nil
		}
	}
}

// parseChunks splits chunks into questions and unique answers. The first
// chunk carrying an answer owns it.
func parseChunks(chunks []store.RawChunk) ([]parsedChunk, []store.Answer) {
	var parsed []parsedChunk
	var answers []store.Answer
	seen := make(map[string]bool)
	for _, c := range chunks {
		q, a := textnorm.ParseChunk(c.Text)
		if a == "" {
			continue
		}
		lang := textnorm.DetectLanguage(q + " " + a)
		hash := textnorm.AnswerHash(a)
		parsed = append(parsed, parsedChunk{chunkID: c.ID, question: q, lang: lang, hash: hash})
		if seen[hash] {
			continue
		}
		seen[hash] = true
		answers = append(answers, store.Answer{
			Text:     a,
			Language: lang,
			Hash:     hash,
			Meta:     map[string]any{store.MetaSourceChunkID: c.ID},
		})
	}
	return parsed, answers
}

func (b *Builder) buildEntries(parsed []parsedChunk, ids map[string]int64) []store.IndexEntry {
	var out []store.IndexEntry
	seen := make(map[string]bool)
	for _, p := range parsed {
		if p.question == "" {
			continue
		}
		answerID := ids[p.hash]
		for _, text := range textnorm.SearchTexts(p.question, b.cfg.Aliases) {
			hash := textnorm.PhraseHash(answerID, text)
			if seen[hash] {
				continue
			}
			seen[hash] = true
			out = append(out, store.IndexEntry{
				AnswerID:   answerID,
				Language:   p.lang,
				SearchText: text,
				SearchHash: hash,
				Meta: map[string]any{
					store.MetaSource:     store.SourceRules,
					store.MetaSrcChunkID: p.chunkID,
				},
			})
		}
	}
	return out
}

func (b *Builder) writeEntries(ctx context.Context, batch []store.IndexEntry) (store.InsertResult, error) {
	texts := make([]string, len(batch))
	for i, e := range batch {
		texts[i] = e.SearchText
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return store.InsertResult{}, err
	}
	for i := range batch {
		batch[i].Embedding = vecs[i]
	}
	return b.store.InsertEntries(ctx, batch)
}

func (b *Builder) report(stage string, current, total int) {
	if b.progress != nil {
		b.progress(Progress{Stage: stage, Current: current, Total: total})
	}
}
