package eval

import (
	"slices"
)

// Ks are the cutoffs every summary reports.
var Ks = []int{1, 3, 5, 10, 20}

// RankOf returns the 1-based position of target in preds, or 0 when it is
// absent.
func RankOf(target int64, preds []int64) int {
	if i := slices.Index(preds, target); i >= 0 {
		return i + 1
	}
	return 0
}

// RecallAt is the fraction of ranks within 1..k.
func RecallAt(ranks []int, k int) float64 {
	hits := 0
	for _, r := range ranks {
		if r >= 1 && r <= k {
			hits++
		}
	}
	return float64(hits) / float64(max(1, len(ranks)))
}

// MRRAt is the mean reciprocal rank, counting ranks beyond k as zero.
func MRRAt(ranks []int, k int) float64 {
	var sum float64
	for _, r := range ranks {
		if r >= 1 && r <= k {
			sum += 1 / float64(r)
		}
	}
	return sum / float64(max(1, len(ranks)))
}

// HitRate is the fraction of queries whose answer was found at all.
func HitRate(ranks []int) float64 {
	return float64(len(foundRanks(ranks))) / float64(max(1, len(ranks)))
}

// MeanRank averages the ranks of found answers. Zero when none were found.
func MeanRank(ranks []int) float64 {
	found := foundRanks(ranks)
	if len(found) == 0 {
		return 0
	}
	var sum int
	for _, r := range found {
		sum += r
	}
	return float64(sum) / float64(len(found))
}

// MedianRank is the median rank of found answers. Zero when none were
// found.
func MedianRank(ranks []int) float64 {
	found := foundRanks(ranks)
	if len(found) == 0 {
		return 0
	}
	slices.Sort(found)
	mid := len(found) / 2
	if len(found)%2 == 1 {
		return float64(found[mid])
	}
	return float64(found[mid-1]+found[mid]) / 2
}

func foundRanks(ranks []int) []int {
	out := make([]int, 0, len(ranks))
	for _, r := range ranks {
		if r > 0 {
			out = append(out, r)
		}
	}
	return out
}

// Cutoff holds the metrics at one K.
type Cutoff struct {
	K      int     `json:"k"`
	Recall float64 `json:"recall"`
	MRR    float64 `json:"mrr"`
}

// Summary aggregates one mode's ranks.
type Summary struct {
	Mode       string   `json:"mode"`
	N          int      `json:"n"`
	HitRate    float64  `json:"hit_rate"`
	MeanRank   float64  `json:"mean_rank"`
	MedianRank float64  `json:"median_rank"`
	Cutoffs    []Cutoff `json:"cutoffs"`
}

// Summarize computes the summary of ranks.
func Summarize(mode string, ranks []int) Summary {
	s := Summary{
		Mode:       mode,
		N:          len(ranks),
		HitRate:    HitRate(ranks),
		MeanRank:   MeanRank(ranks),
		MedianRank: MedianRank(ranks),
		Cutoffs:    make([]Cutoff, len(Ks)),
	}
	for i, k := range Ks {
		s.Cutoffs[i] = Cutoff{K: k, Recall: RecallAt(ranks, k), MRR: MRRAt(ranks, k)}
	}
	return s
}

// Recall returns Recall@k from the summary, or 0 if k is not a reported
// cutoff.
func (s Summary) Recall(k int) float64 {
	for _, c := range s.Cutoffs {
		if c.K == k {
			return c.Recall
		}
	}
	return 0
}

// MRR returns MRR@k from the summary, or 0 if k is not a reported cutoff.
func (s Summary) MRR(k int) float64 {
	for _, c := range s.Cutoffs {
		if c.K == k {
			return c.MRR
		}
	}
	return 0
}
