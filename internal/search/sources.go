package search

import (
	"context"
	"errors"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/store"
)

// VectorSource proposes entries nearest to the query embedding.
type VectorSource struct {
	searcher store.VectorSearcher
}

// NewVectorSource wraps a store's nearest-neighbour primitive.
func NewVectorSource(s store.VectorSearcher) *VectorSource {
	return &VectorSource{searcher: s}
}

// Name implements CandidateSource.
func (v *VectorSource) Name() string { return SourceVector }

// Candidates implements CandidateSource.
func (v *VectorSource) Candidates(ctx context.Context, q Query, limit int) ([]Candidate, error) {
	hits, err := v.searcher.SearchVector(ctx, q.Embedding, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{
			AnswerID: h.AnswerID,
			EntryID:  h.EntryID,
			Language: h.Language,
			Text:     h.SearchText,
			Value:    h.Similarity,
		}
	}
	return out, nil
}

// LexicalSource proposes entries by trigram similarity to the query text.
// With an expander set, the original text and the text with canonical terms
// appended are both tried, and the hits with the best top similarity win.
type LexicalSource struct {
	searcher store.TrigramSearcher
	expander *TermExpander
}

// NewLexicalSource wraps a store's trigram primitive. expander may be nil.
func NewLexicalSource(s store.TrigramSearcher, expander *TermExpander) *LexicalSource {
	return &LexicalSource{searcher: s, expander: expander}
}

// Name implements CandidateSource.
func (l *LexicalSource) Name() string { return SourceLexical }

// Candidates implements CandidateSource.
func (l *LexicalSource) Candidates(ctx context.Context, q Query, limit int) ([]Candidate, error) {
	texts := []string{q.Text}
	if l.expander != nil {
		texts = l.expander.Candidates(q.Text)
	}

	var best []store.TrigramHit
	for i, text := range texts {
		hits, err := l.searcher.SearchTrigram(ctx, text, limit)
		if err != nil {
			return nil, err
		}
		// Earlier texts win ties.
		if i == 0 || topTrigram(hits) > topTrigram(best) {
			best = hits
		}
	}

	out := make([]Candidate, len(best))
	for i, h := range best {
		out[i] = Candidate{
			AnswerID: h.AnswerID,
			EntryID:  h.EntryID,
			Language: h.Language,
			Text:     h.SearchText,
			Value:    h.Trigram,
		}
	}
	return out, nil
}

func topTrigram(hits []store.TrigramHit) float64 {
	if len(hits) == 0 {
		return 0
	}
	return hits[0].Trigram
}

// GuardedSource trips a circuit breaker after repeated failures of the
// wrapped source. While open, calls fail fast with ERR_304_CIRCUIT_OPEN,
// which the engine treats like any other source failure.
type GuardedSource struct {
	inner   CandidateSource
	breaker *qaerrors.CircuitBreaker
}

// NewGuardedSource wraps inner with breaker.
func NewGuardedSource(inner CandidateSource, breaker *qaerrors.CircuitBreaker) *GuardedSource {
	return &GuardedSource{inner: inner, breaker: breaker}
}

// Name implements CandidateSource.
func (g *GuardedSource) Name() string { return g.inner.Name() }

// Breaker exposes the breaker state for health reporting.
func (g *GuardedSource) Breaker() *qaerrors.CircuitBreaker { return g.breaker }

// Candidates implements CandidateSource. Caller cancellation is not
// counted against the source.
func (g *GuardedSource) Candidates(ctx context.Context, q Query, limit int) ([]Candidate, error) {
	if !g.breaker.Allow() {
		return nil, qaerrors.ErrCircuitOpen
	}
	out, err := g.inner.Candidates(ctx, q, limit)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(ctx.Err(), context.Canceled):
		// caller went away
	default:
		g.breaker.RecordFailure()
	}
	return out, err
}
