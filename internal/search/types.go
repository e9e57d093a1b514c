// Package search retrieves ranked answers for a query by gathering
// candidates from independent similarity sources and fusing them into one
// list per answer.
package search

import (
	"context"
	"time"
)

// Mode selects which sources contribute to a match.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeLexical Mode = "lexical"
	ModeHybrid  Mode = "hybrid"
)

// Source names.
const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
)

// Fusion weights of the hybrid score.
const (
	VectorWeight  = 0.8
	LexicalWeight = 0.2
)

// Query is the input every candidate source receives. A source reads only
// the field it needs.
type Query struct {
	Text      string
	Embedding []float32
}

// Candidate is one index entry proposed by a source. Value is the source's
// raw similarity: cosine similarity for the vector source, trigram
// similarity for the lexical source.
type Candidate struct {
	AnswerID int64
	EntryID  int64
	Language string
	Text     string
	Value    float64
}

// CandidateSource is one similarity source. Candidates are returned best
// first; an answer may appear more than once through different phrases.
type CandidateSource interface {
	Name() string
	Candidates(ctx context.Context, q Query, limit int) ([]Candidate, error)
}

// RankedList is one source's contribution to fusion. Cap bounds each value
// before weighting; zero means unbounded.
type RankedList struct {
	Source     string
	Weight     float64
	Cap        float64
	Candidates []Candidate
}

// Result is one fused answer. Values holds the best value per contributing
// source; Similarity and Trigram mirror the vector and lexical entries and
// are zero when that source did not propose the answer. Rank is 1-based.
type Result struct {
	AnswerID   int64              `json:"answer_id"`
	SearchText string             `json:"search_text"`
	Language   string             `json:"lang,omitempty"`
	Similarity float64            `json:"similarity"`
	Trigram    float64            `json:"trigram"`
	Score      float64            `json:"score"`
	Rank       int                `json:"rank"`
	Values     map[string]float64 `json:"-"`
}

// Scored is the compact row returned by the evaluation calls.
type Scored struct {
	AnswerID int64   `json:"answer_id"`
	Score    float64 `json:"score"`
}

// Config configures the engine.
type Config struct {
	// MatchCount is used when a request leaves its count unset (default: 20).
	MatchCount int

	// CandidateMultiplier widens each source's limit so that answers still
	// fill MatchCount after per-answer deduplication (default: 4).
	CandidateMultiplier int

	// RequestTimeout bounds both source queries of one request (default: 3s).
	RequestTimeout time.Duration

	// Dimensions is the required embedding width (default: 1536).
	Dimensions int

	// MaxQueryRunes rejects absurdly long query texts (default: 2000).
	MaxQueryRunes int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MatchCount:          20,
		CandidateMultiplier: 4,
		RequestTimeout:      3 * time.Second,
		Dimensions:          1536,
		MaxQueryRunes:       2000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MatchCount <= 0 {
		c.MatchCount = def.MatchCount
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = def.CandidateMultiplier
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Dimensions <= 0 {
		c.Dimensions = def.Dimensions
	}
	if c.MaxQueryRunes <= 0 {
		c.MaxQueryRunes = def.MaxQueryRunes
	}
	return c
}
