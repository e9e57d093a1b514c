package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// Features describes one fused candidate to a reranker.
type Features struct {
	AnswerID         int64   `json:"answer_id"`
	VectorSimilarity float64 `json:"vector_sim"`
	TrigramScore     float64 `json:"trigram_sim"`
	FusedScore       float64 `json:"hybrid_score"`
	FusedRank        int     `json:"fused_rank"`
	TextLength       int     `json:"text_length"`
	LanguageMatches  bool    `json:"language_matches"`
}

// Reranker reorders the fused top N. It returns every answer id it was
// given exactly once, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, features []Features) ([]int64, error)
}

// BuildFeatures exposes results to a reranker. TextLength counts runes of
// the representative text; LanguageMatches compares its language with the
// detected language of the query.
func BuildFeatures(query string, results []Result) []Features {
	lang := textnorm.DetectLanguage(query)
	out := make([]Features, len(results))
	for i, r := range results {
		out[i] = Features{
			AnswerID:         r.AnswerID,
			VectorSimilarity: r.Similarity,
			TrigramScore:     r.Trigram,
			FusedScore:       r.Score,
			FusedRank:        r.Rank,
			TextLength:       utf8.RuneCountInString(r.SearchText),
			LanguageMatches:  r.Language == lang,
		}
	}
	return out
}

// ApplyPermutation reorders results to match order and reassigns ranks.
// order must hold the same answer ids as results, each once.
func ApplyPermutation(results []Result, order []int64) ([]Result, error) {
	if len(order) != len(results) {
		return nil, qaerrors.ValidationError(
			fmt.Sprintf("rerank returned %d ids for %d results", len(order), len(results)), nil)
	}
	byID := make(map[int64]Result, len(results))
	for _, r := range results {
		byID[r.AnswerID] = r
	}
	out := make([]Result, 0, len(order))
	for _, id := range order {
		r, ok := byID[id]
		if !ok {
			return nil, qaerrors.ValidationError(
				fmt.Sprintf("rerank returned unknown or repeated answer %d", id), nil)
		}
		delete(byID, id)
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	return out, nil
}

// NoOpReranker keeps the fused order.
type NoOpReranker struct{}

// Rerank implements Reranker.
func (NoOpReranker) Rerank(_ context.Context, _ string, features []Features) ([]int64, error) {
	ids := make([]int64, len(features))
	for i, f := range features {
		ids[i] = f.AnswerID
	}
	return ids, nil
}

// LinearWeights are the coefficients of the logistic reranker.
type LinearWeights struct {
	Intercept float64 `yaml:"intercept" toml:"intercept" json:"intercept"`
	VectorSim float64 `yaml:"vector_sim" toml:"vector_sim" json:"vector_sim"`
	Trigram   float64 `yaml:"trigram_sim" toml:"trigram_sim" json:"trigram_sim"`
	Hybrid    float64 `yaml:"hybrid_score" toml:"hybrid_score" json:"hybrid_score"`
}

// LinearReranker orders candidates by
//
//	p = σ(b + w1*vector_sim + w2*trigram_sim + w3*hybrid_score)
//
// highest first, falling back to fused rank on ties.
type LinearReranker struct {
	w LinearWeights
}

// NewLinearReranker creates a logistic reranker.
func NewLinearReranker(w LinearWeights) *LinearReranker {
	return &LinearReranker{w: w}
}

// Probability scores one candidate.
func (l *LinearReranker) Probability(f Features) float64 {
	z := l.w.Intercept +
		l.w.VectorSim*f.VectorSimilarity +
		l.w.Trigram*f.TrigramScore +
		l.w.Hybrid*f.FusedScore
	return 1 / (1 + math.Exp(-z))
}

// Rerank implements Reranker.
func (l *LinearReranker) Rerank(_ context.Context, _ string, features []Features) ([]int64, error) {
	type scored struct {
		f Features
		p float64
	}
	rows := make([]scored, len(features))
	for i, f := range features {
		rows[i] = scored{f: f, p: l.Probability(f)}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].p != rows[j].p {
			return rows[i].p > rows[j].p
		}
		return rows[i].f.FusedRank < rows[j].f.FusedRank
	})
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.f.AnswerID
	}
	return ids, nil
}

var (
	_ Reranker = NoOpReranker{}
	_ Reranker = (*LinearReranker)(nil)
)
