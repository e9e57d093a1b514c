package search

import "sort"

// Score is the hybrid fusion formula:
//
//	score = 0.8*similarity + 0.2*min(1, trigram)
//
// A missing source contributes 0. Fuse computes the same value through the
// same accumulation, so results satisfy Score(r.Similarity, r.Trigram) ==
// r.Score bit for bit.
func Score(similarity, trigram float64) float64 {
	score := accumulate(0, VectorWeight, 0, similarity)
	return accumulate(score, LexicalWeight, 1, trigram)
}

// accumulate adds one weighted, optionally capped contribution. The
// explicit conversion forces rounding of the product so the compiler never
// fuses it into a multiply-add.
func accumulate(score, weight, limit, value float64) float64 {
	if limit > 0 && value > limit {
		value = limit
	}
	return score + float64(weight*value)
}

// HybridLists pairs vector and lexical candidates with the hybrid weights.
func HybridLists(vector, lexical []Candidate) []RankedList {
	return []RankedList{
		{Source: SourceVector, Weight: VectorWeight, Candidates: vector},
		{Source: SourceLexical, Weight: LexicalWeight, Cap: 1, Candidates: lexical},
	}
}

// fusedEntry is the per-answer state while merging.
type fusedEntry struct {
	result Result
	order  int
}

// Fuse merges ranked lists into one list with at most one row per answer.
//
// Each answer keeps the first candidate every list offers for it, which is
// that source's best since lists arrive sorted. The representative text is
// taken from the first list that proposed the answer. Rows are ordered by
// score descending; equal scores keep the order in which answers first
// appeared, scanning lists in the order given. limit <= 0 keeps every row.
// Negative scores are kept as they are.
func Fuse(lists []RankedList, limit int) []Result {
	total := 0
	for _, l := range lists {
		total += len(l.Candidates)
	}
	if total == 0 {
		return []Result{}
	}

	byAnswer := make(map[int64]*fusedEntry, total)
	entries := make([]*fusedEntry, 0, total)

	for _, l := range lists {
		for _, c := range l.Candidates {
			e, ok := byAnswer[c.AnswerID]
			if !ok {
				e = &fusedEntry{
					result: Result{
						AnswerID:   c.AnswerID,
						SearchText: c.Text,
						Language:   c.Language,
						Values:     make(map[string]float64, len(lists)),
					},
					order: len(entries),
				}
				byAnswer[c.AnswerID] = e
				entries = append(entries, e)
			}
			if _, seen := e.result.Values[l.Source]; !seen {
				e.result.Values[l.Source] = c.Value
			}
		}
	}

	for _, e := range entries {
		var score float64
		for _, l := range lists {
			score = accumulate(score, l.Weight, l.Cap, e.result.Values[l.Source])
		}
		e.result.Score = score
		e.result.Similarity = e.result.Values[SourceVector]
		e.result.Trigram = e.result.Values[SourceLexical]
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.result.AnswerID < b.result.AnswerID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]Result, len(entries))
	for i, e := range entries {
		out[i] = e.result
		out[i].Rank = i + 1
	}
	return out
}
