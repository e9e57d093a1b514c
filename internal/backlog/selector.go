// Package backlog selects short curated phrases that still need paraphrase
// coverage and runs their expansion.
package backlog

import (
	"context"
	"fmt"
	"strings"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/store"
)

// Selection rules.
const (
	DefaultMaxRows = 350
	MaxPhraseChars = 40
	MaxPhraseWords = 2
)

// defaultPageSize is how many phrases are read per store round trip.
const defaultPageSize = 500

// Item is one base phrase awaiting expansion.
type Item struct {
	AnswerID   int64  `json:"answer_id"`
	Language   string `json:"lang"`
	SearchText string `json:"search_text"`
	BaseHash   string `json:"base_search_hash"`
}

// Selector reads the backlog and records completed expansions. It is
// read-only apart from MarkDone.
type Selector struct {
	phrases  store.PhraseLister
	ledger   store.Ledger
	pageSize int
}

// NewSelector creates a selector over a phrase lister and a ledger.
func NewSelector(phrases store.PhraseLister, ledger store.Ledger) *Selector {
	return &Selector{phrases: phrases, ledger: ledger, pageSize: defaultPageSize}
}

// SelectBacklog returns up to maxRows rule-authored short phrases whose
// hash is not in the ledger, oldest first with unknown creation times
// last. maxRows 0 uses DefaultMaxRows.
func (s *Selector) SelectBacklog(ctx context.Context, maxRows int) ([]Item, error) {
	if maxRows == 0 {
		maxRows = DefaultMaxRows
	}
	if maxRows < 0 {
		return nil, qaerrors.ValidationError(fmt.Sprintf("max_rows must be at least 1, got %d", maxRows), nil)
	}

	out := make([]Item, 0, min(maxRows, s.pageSize))
	for offset := 0; len(out) < maxRows; offset += s.pageSize {
		rows, err := s.phrases.ListPhrases(ctx, store.PhraseQuery{
			Source:   store.SourceRules,
			MaxChars: MaxPhraseChars,
			MaxWords: MaxPhraseWords,
			Offset:   offset,
			Limit:    s.pageSize,
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		hashes := make([]string, len(rows))
		for i, r := range rows {
			hashes[i] = r.SearchHash
		}
		done, err := s.ledger.DoneHashes(ctx, hashes)
		if err != nil {
			return nil, err
		}

		for _, r := range rows {
			if done[r.SearchHash] {
				continue
			}
			out = append(out, Item{
				AnswerID:   r.AnswerID,
				Language:   r.Language,
				SearchText: r.SearchText,
				BaseHash:   r.SearchHash,
			})
			if len(out) == maxRows {
				break
			}
		}
		if len(rows) < s.pageSize {
			break
		}
	}
	return out, nil
}

// MarkDone records hash as expanded. Marking a hash twice is not an error;
// inserted reports whether this call added it.
func (s *Selector) MarkDone(ctx context.Context, hash string) (inserted bool, err error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return false, qaerrors.ValidationError("base_search_hash is required", nil)
	}
	return s.ledger.MarkDone(ctx, hash)
}
