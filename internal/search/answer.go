package search

// DefaultNoAnswerThreshold is the lowest fused score still treated as an
// answer.
const DefaultNoAnswerThreshold = 0.38

// TopAnswer returns the best result when its score reaches threshold.
// ok is false for an empty list or a weak best match.
func TopAnswer(results []Result, threshold float64) (best Result, ok bool) {
	if len(results) == 0 || results[0].Score < threshold {
		return Result{}, false
	}
	return results[0], true
}
