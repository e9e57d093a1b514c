package store

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Trigrams returns the pg_trgm trigram set of s: the text is lowercased,
// split into runs of letters and digits, each word is padded with two
// leading spaces and one trailing space, and every 3-rune window is taken.
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	word := make([]rune, 0, 32)

	flush := func() {
		if len(word) == 0 {
			return
		}
		padded := make([]rune, 0, len(word)+3)
		padded = append(padded, ' ', ' ')
		padded = append(padded, word...)
		padded = append(padded, ' ')
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
		word = word[:0]
	}

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word = append(word, r)
			continue
		}
		flush()
	}
	flush()
	return set
}

// TrigramSimilarity is pg_trgm's similarity(): shared trigrams divided by
// the size of the union. Texts without trigrams have similarity 0.
func TrigramSimilarity(a, b string) float64 {
	return setSimilarity(Trigrams(a), Trigrams(b))
}

func setSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

type trigramDoc struct {
	info   entryInfo
	ngrams int
}

// TrigramIndex is an in-memory inverted index answering pg_trgm style
// similarity queries over index entry phrases.
type TrigramIndex struct {
	mu        sync.RWMutex
	threshold float64
	docs      map[int64]trigramDoc
	postings  map[string][]int64
}

// NewTrigramIndex creates an index that keeps matches with similarity of at
// least threshold.
func NewTrigramIndex(threshold float64) *TrigramIndex {
	if threshold <= 0 {
		threshold = DefaultTrigramThreshold
	}
	return &TrigramIndex{
		threshold: threshold,
		docs:      make(map[int64]trigramDoc),
		postings:  make(map[string][]int64),
	}
}

// Add indexes one entry. Re-adding an id is ignored; entries never change.
func (x *TrigramIndex) Add(info entryInfo) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.docs[info.ID]; ok {
		return
	}
	grams := Trigrams(info.SearchText)
	x.docs[info.ID] = trigramDoc{info: info, ngrams: len(grams)}
	for g := range grams {
		x.postings[g] = append(x.postings[g], info.ID)
	}
}

// Len returns the number of indexed entries.
func (x *TrigramIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Search returns entries whose similarity to text is at least the threshold,
// ordered by similarity descending then entry id.
func (x *TrigramIndex) Search(text string, limit int) []TrigramHit {
	query := Trigrams(text)
	if len(query) == 0 || limit <= 0 {
		return []TrigramHit{}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	shared := make(map[int64]int)
	for g := range query {
		for _, id := range x.postings[g] {
			shared[id]++
		}
	}

	hits := make([]TrigramHit, 0, len(shared))
	for id, n := range shared {
		doc := x.docs[id]
		sim := float64(n) / float64(len(query)+doc.ngrams-n)
		if sim < x.threshold {
			continue
		}
		hits = append(hits, TrigramHit{
			EntryID:    id,
			AnswerID:   doc.info.AnswerID,
			Language:   doc.info.Language,
			SearchText: doc.info.SearchText,
			Trigram:    sim,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Trigram != hits[j].Trigram {
			return hits[i].Trigram > hits[j].Trigram
		}
		return hits[i].EntryID < hits[j].EntryID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
