// Package store persists answers, index entries, staged chunks and the
// paraphrase ledger, and exposes the two similarity primitives retrieval is
// built on: approximate vector nearest-neighbour search and trigram search.
package store

import (
	"context"
	"fmt"
	"time"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// Dimensions is the fixed embedding width of the index.
const Dimensions = 1536

// Meta keys and provenance values on index entries.
const (
	MetaSource        = "source"
	SourceRules       = "rules"
	SourceParaphrase  = "paraphrase"
	MetaBase          = "base"
	MetaSrcChunkID    = "src_chunk_id"
	MetaSourceChunkID = "source_chunk_id"
)

// DefaultTrigramThreshold matches pg_trgm's default similarity threshold.
const DefaultTrigramThreshold = 0.3

// Answer is a canonical response unit, unique by Hash.
type Answer struct {
	ID        int64
	Text      string
	CleanText string
	Language  string
	Meta      map[string]any
	Hash      string
	CreatedAt time.Time
}

// IndexEntry is a searchable phrase bound to exactly one answer, unique by
// SearchHash. Weight is stored but not used for scoring.
type IndexEntry struct {
	ID         int64
	AnswerID   int64
	Language   string
	SearchText string
	Embedding  []float32
	Weight     float64
	Meta       map[string]any
	SearchHash string
	CreatedAt  time.Time
}

// Source returns the provenance discriminator of the entry.
func (e IndexEntry) Source() string {
	s, _ := e.Meta[MetaSource].(string)
	return s
}

// RawChunk is unlinked staging text waiting to be parsed into answers.
type RawChunk struct {
	ID        int64
	Text      string
	Hash      string
	Embedding []float32
	CreatedAt time.Time
}

// VectorHit is one entry returned by nearest-neighbour search.
// Similarity is 1 - cosine distance and may be negative.
type VectorHit struct {
	EntryID    int64
	AnswerID   int64
	Language   string
	SearchText string
	Similarity float64
}

// TrigramHit is one entry returned by trigram search.
type TrigramHit struct {
	EntryID    int64
	AnswerID   int64
	Language   string
	SearchText string
	Trigram    float64
}

// PhraseRow is an index entry considered for paraphrase expansion.
// CreatedAt is nil when the creation time is unknown.
type PhraseRow struct {
	EntryID    int64
	AnswerID   int64
	Language   string
	SearchText string
	SearchHash string
	CreatedAt  *time.Time
}

// PhraseQuery filters index entries by provenance and shortness.
// A phrase is short when it has at most MaxChars runes or at most MaxWords
// words. Rows are ordered by creation time (unknown last), then id.
type PhraseQuery struct {
	Source   string
	MaxChars int
	MaxWords int
	Offset   int
	Limit    int
}

// InsertResult counts rows written and rows skipped as duplicates.
type InsertResult struct {
	Inserted int
	Skipped  int
}

// Add accumulates another result.
func (r *InsertResult) Add(other InsertResult) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
}

// Stats summarises store contents.
type Stats struct {
	Answers      int
	Entries      int
	Chunks       int
	LedgerHashes int
	Backend      string
}

// VectorSearcher finds index entries nearest to an embedding, nearest first.
type VectorSearcher interface {
	SearchVector(ctx context.Context, embedding []float32, limit int) ([]VectorHit, error)
}

// TrigramSearcher finds index entries whose trigram similarity to text
// reaches the store threshold, highest first. No match is an empty result.
type TrigramSearcher interface {
	SearchTrigram(ctx context.Context, text string, limit int) ([]TrigramHit, error)
}

// AnswerStore writes answers. Duplicate hashes are skipped, existing row wins.
type AnswerStore interface {
	InsertAnswers(ctx context.Context, answers []Answer) (InsertResult, error)
	AnswerIDsByHash(ctx context.Context, hashes []string) (map[string]int64, error)
}

// EntryWriter writes index entries. Duplicate hashes are skipped.
type EntryWriter interface {
	InsertEntries(ctx context.Context, entries []IndexEntry) (InsertResult, error)
}

// PhraseLister lists expansion-eligible phrases.
type PhraseLister interface {
	ListPhrases(ctx context.Context, q PhraseQuery) ([]PhraseRow, error)
}

// ChunkStore stages raw chunks.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []RawChunk) (InsertResult, error)
	ListChunks(ctx context.Context, offset, limit int) ([]RawChunk, error)
}

// Ledger records base phrase hashes that were already expanded.
// MarkDone is an idempotent upsert that reports whether the hash was new.
type Ledger interface {
	DoneHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	MarkDone(ctx context.Context, hash string) (bool, error)
}

// Store is the full persistence surface used by the commands.
type Store interface {
	VectorSearcher
	TrigramSearcher
	AnswerStore
	EntryWriter
	PhraseLister
	ChunkStore
	Ledger
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// DimensionError reports an embedding of the wrong width.
func DimensionError(want, got int) error {
	return qaerrors.New(qaerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding has %d dimensions, expected %d", got, want), nil).
		WithDetail("expected", fmt.Sprint(want)).
		WithDetail("got", fmt.Sprint(got))
}

// errClosed is returned by every operation on a closed store.
var errClosed = qaerrors.New(qaerrors.ErrCodeStoreClosed, "store is closed", nil)
