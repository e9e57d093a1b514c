package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Breakdown dimensions.
var Dimensions = []string{"lang", "topic", "qtype", "split"}

// Group is one slice of the eval set. RecallAt holds Recall@1 and
// Recall@5 per mode.
type Group struct {
	Name     string                `json:"name"`
	N        int                   `json:"n"`
	RecallAt map[string][2]float64 `json:"recall_at_1_5"`
}

// GroupKey returns the value of dimension by for row. Blank values are
// "unknown"; an unrecognised dimension puts every row in "all".
func GroupKey(row Row, by string) string {
	var v string
	switch by {
	case "lang":
		v = row.Lang
	case "topic":
		v = row.Topic
	case "qtype":
		v = row.QType
	case "split":
		v = row.Split
	default:
		return "all"
	}
	if v == "" {
		return "unknown"
	}
	return v
}

// Breakdown groups the report's rows by dimension and computes Recall@1 and
// Recall@5 per mode. Groups are ordered by size, largest first, then name.
func Breakdown(r *Report, by string) []Group {
	idx := make(map[string][]int)
	for i, row := range r.Rows {
		k := GroupKey(row, by)
		idx[k] = append(idx[k], i)
	}

	groups := make([]Group, 0, len(idx))
	for name, rows := range idx {
		g := Group{Name: name, N: len(rows), RecallAt: make(map[string][2]float64, len(r.Modes))}
		for _, m := range r.Modes {
			ranks := make([]int, len(rows))
			for j, i := range rows {
				ranks[j] = m.Ranks[i]
			}
			g.RecallAt[m.Mode] = [2]float64{RecallAt(ranks, 1), RecallAt(ranks, 5)}
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].N != groups[j].N {
			return groups[i].N > groups[j].N
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

// WriteSummary prints the per-mode summaries as plain text.
func WriteSummary(w io.Writer, r *Report) error {
	if _, err := fmt.Fprintf(w, "run=%s rows=%d topk=%d rewritten=%d duration=%s\n",
		r.RunID, len(r.Rows), r.TopK, r.Rewritten, r.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, m := range r.Modes {
		s := m.Summary
		if _, err := fmt.Fprintf(w, "\n=== %s ===\nN=%d | HitRate: %.3f | MeanRank: %.2f | MedianRank: %.2f\n",
			m.Mode, s.N, s.HitRate, s.MeanRank, s.MedianRank); err != nil {
			return err
		}
		for _, c := range s.Cutoffs {
			if _, err := fmt.Fprintf(w, "Recall@%d: %.3f | MRR@%d: %.3f\n", c.K, c.Recall, c.K, c.MRR); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteBreakdown prints a tab-separated breakdown table for one dimension.
func WriteBreakdown(w io.Writer, r *Report, by string) error {
	header := []string{"group", "N"}
	for _, m := range r.Modes {
		header = append(header, m.Mode+":R@1")
	}
	for _, m := range r.Modes {
		header = append(header, m.Mode+":R@5")
	}
	if _, err := fmt.Fprintf(w, "\n--- Breakdown by %s ---\n%s\n", by, strings.Join(header, "\t")); err != nil {
		return err
	}
	for _, g := range Breakdown(r, by) {
		line := []string{g.Name, strconv.Itoa(g.N)}
		for _, m := range r.Modes {
			line = append(line, fmt.Sprintf("%.3f", g.RecallAt[m.Mode][0]))
		}
		for _, m := range r.Modes {
			line = append(line, fmt.Sprintf("%.3f", g.RecallAt[m.Mode][1]))
		}
		if _, err := fmt.Fprintln(w, strings.Join(line, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// WriteFailures writes every row that at least one mode missed, with each
// mode's rank and its top-K answer ids. It returns the number of rows
// written.
func WriteFailures(w io.Writer, r *Report) (int, error) {
	cw := csv.NewWriter(w)
	header := []string{"qid", "question", "gold_answer_id", "lang", "topic", "qtype", "split"}
	for _, m := range r.Modes {
		header = append(header, m.Mode+"_rank")
	}
	for _, m := range r.Modes {
		header = append(header, fmt.Sprintf("%s_top%d", m.Mode, r.TopK))
	}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	written := 0
	for i, row := range r.Rows {
		missed := false
		for _, m := range r.Modes {
			if m.Ranks[i] == 0 {
				missed = true
				break
			}
		}
		if !missed {
			continue
		}
		rec := []string{row.QID, row.Question, strconv.FormatInt(row.AnswerID, 10), row.Lang, row.Topic, row.QType, row.Split}
		for _, m := range r.Modes {
			rec = append(rec, strconv.Itoa(m.Ranks[i]))
		}
		for _, m := range r.Modes {
			preds := m.Preds[i]
			ids := make([]string, 0, min(len(preds), r.TopK))
			for _, id := range preds[:min(len(preds), r.TopK)] {
				ids = append(ids, strconv.FormatInt(id, 10))
			}
			rec = append(rec, strings.Join(ids, " "))
		}
		if err := cw.Write(rec); err != nil {
			return written, err
		}
		written++
	}
	cw.Flush()
	return written, cw.Error()
}
