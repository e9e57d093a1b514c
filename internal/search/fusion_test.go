package search

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(answerID int64, text string, sim float64) Candidate {
	return Candidate{AnswerID: answerID, Text: text, Value: sim, Language: "ru"}
}

func ids(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.AnswerID
	}
	return out
}

// =============================================================================
// Score
// =============================================================================

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		similarity float64
		trigram    float64
		want       float64
	}{
		{"both sources", 0.91, 0.40, 0.808},
		{"vector only", 0.5, 0, 0.4},
		{"lexical only", 0, 0.5, 0.1},
		{"trigram capped at one", 0, 1.7, 0.2},
		{"negative similarity kept", -0.25, 0, -0.2},
		{"nothing", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.similarity, tt.trigram), 1e-12)
		})
	}
}

func TestScore_CapMakesLargeTrigramsEqual(t *testing.T) {
	assert.Equal(t, Score(0.3, 1), Score(0.3, 42))
}

// =============================================================================
// Fuse
// =============================================================================

func TestFuse_WorkedExample(t *testing.T) {
	// Given "модуль" -> A1 (sim 0.91, trigram 0.40) and "moodle не работает" -> A2 (0.60, 0.85)
	vector := []Candidate{vec(1, "модуль", 0.91), vec(2, "moodle не работает", 0.60)}
	lexical := []Candidate{vec(2, "moodle не работает", 0.85), vec(1, "модуль", 0.40)}

	// When
	results := Fuse(HybridLists(vector, lexical), 20)

	// Then
	require.Len(t, results, 2)
	assert.Equal(t, []int64{1, 2}, ids(results))
	assert.InDelta(t, 0.808, results[0].Score, 1e-12)
	assert.InDelta(t, 0.650, results[1].Score, 1e-12)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
	assert.Equal(t, 0.91, results[0].Similarity)
	assert.Equal(t, 0.40, results[0].Trigram)
}

func TestFuse_EmptyInputsGiveEmptyResult(t *testing.T) {
	results := Fuse(HybridLists(nil, nil), 20)

	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFuse_OneRowPerAnswerUsingBestCandidate(t *testing.T) {
	// Given two phrases of answer 7 in each list, best first
	vector := []Candidate{vec(7, "gpa", 0.9), vec(3, "fx", 0.7), vec(7, "grade point average", 0.8)}
	lexical := []Candidate{vec(7, "gpa балл", 0.6), vec(7, "gpa", 0.3)}

	// When
	results := Fuse(HybridLists(vector, lexical), 0)

	// Then
	require.Len(t, results, 2)
	assert.Equal(t, int64(7), results[0].AnswerID)
	assert.Equal(t, 0.9, results[0].Similarity)
	assert.Equal(t, 0.6, results[0].Trigram)
	assert.Equal(t, "gpa", results[0].SearchText)
}

func TestFuse_RepresentativeText(t *testing.T) {
	vector := []Candidate{vec(1, "vector phrase", 0.5)}
	lexical := []Candidate{vec(1, "lexical phrase", 0.5), vec(2, "only lexical", 0.9)}

	results := Fuse(HybridLists(vector, lexical), 0)

	byID := map[int64]Result{}
	for _, r := range results {
		byID[r.AnswerID] = r
	}
	assert.Equal(t, "vector phrase", byID[1].SearchText)
	assert.Equal(t, "only lexical", byID[2].SearchText)
	assert.Zero(t, byID[2].Similarity)
}

func TestFuse_TieBreakByFirstAppearance(t *testing.T) {
	// Given equal scores: two vector answers at 0.5, and a vector-only
	// answer (0.8*0.25) tying with a lexical-only one (0.2*1.0)
	vector := []Candidate{vec(9, "a", 0.5), vec(2, "b", 0.5), vec(7, "c", 0.25)}
	lexical := []Candidate{vec(1, "d", 1.0)}

	// When
	results := Fuse(HybridLists(vector, lexical), 0)

	// Then ties keep vector order, then lexical order, regardless of ids
	assert.Equal(t, []int64{9, 2, 7, 1}, ids(results))
	assert.Equal(t, results[2].Score, results[3].Score)
}

func TestFuse_Truncates(t *testing.T) {
	vector := []Candidate{vec(1, "a", 0.9), vec(2, "b", 0.8), vec(3, "c", 0.7)}

	t.Run("limit", func(t *testing.T) {
		results := Fuse(HybridLists(vector, nil), 2)
		assert.Equal(t, []int64{1, 2}, ids(results))
	})

	t.Run("non-positive keeps all", func(t *testing.T) {
		results := Fuse(HybridLists(vector, nil), 0)
		assert.Len(t, results, 3)
	})
}

func TestFuse_NegativeScoresAreNotClamped(t *testing.T) {
	vector := []Candidate{vec(1, "a", -0.3), vec(2, "b", 0.1)}

	results := Fuse(HybridLists(vector, nil), 0)

	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].AnswerID)
	assert.Less(t, results[1].Score, 0.0)
}

func TestFuse_SingleListWeights(t *testing.T) {
	cands := []Candidate{vec(1, "a", 1.4), vec(2, "b", 0.6)}

	t.Run("vector mode score equals similarity", func(t *testing.T) {
		results := Fuse([]RankedList{{Source: SourceVector, Weight: 1, Candidates: cands}}, 0)
		for _, r := range results {
			assert.Equal(t, r.Similarity, r.Score)
		}
	})

	t.Run("lexical mode score is capped trigram", func(t *testing.T) {
		results := Fuse([]RankedList{{Source: SourceLexical, Weight: 1, Cap: 1, Candidates: cands}}, 0)
		assert.Equal(t, 1.0, results[0].Score)
		assert.Equal(t, 1.4, results[0].Trigram)
		assert.Equal(t, 0.6, results[1].Score)
	})
}

// randomLists builds overlapping candidate lists, each sorted best first.
func randomLists(r *rand.Rand) (vector, lexical []Candidate) {
	n := r.IntN(30)
	for i := 0; i < n; i++ {
		vector = append(vector, vec(int64(r.IntN(25)), "v", r.Float64()*2-0.5))
	}
	m := r.IntN(30)
	for i := 0; i < m; i++ {
		lexical = append(lexical, vec(int64(r.IntN(25)), "l", r.Float64()*1.2))
	}
	sortByValue(vector)
	sortByValue(lexical)
	return vector, lexical
}

func sortByValue(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Value > c[j-1].Value; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func TestFuse_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for round := 0; round < 500; round++ {
		vector, lexical := randomLists(r)
		results := Fuse(HybridLists(vector, lexical), r.IntN(25))

		seen := map[int64]bool{}
		for i, res := range results {
			// score formula holds exactly
			require.Equal(t, Score(res.Similarity, res.Trigram), res.Score, "round %d row %d", round, i)
			// no duplicate answers
			require.False(t, seen[res.AnswerID], "round %d duplicate %d", round, res.AnswerID)
			seen[res.AnswerID] = true
			// sorted, ranks contiguous
			require.Equal(t, i+1, res.Rank)
			if i > 0 {
				require.GreaterOrEqual(t, results[i-1].Score, res.Score)
			}
		}
	}
}
