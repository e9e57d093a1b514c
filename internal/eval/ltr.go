package eval

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/search"
)

// ltrColumns is the header of a learning-to-rank dataset.
var ltrColumns = []string{"query", "gold_answer_id", "cand_answer_id", "vector_sim", "trigram_sim", "hybrid_score", "label"}

// LTRRow is one (query, candidate) pair with its retrieval features.
type LTRRow struct {
	Query        string
	GoldAnswerID int64
	CandAnswerID int64
	VectorSim    float64
	TrigramSim   float64
	HybridScore  float64
	Label        int
}

func (r LTRRow) record() []string {
	return []string{
		r.Query,
		strconv.FormatInt(r.GoldAnswerID, 10),
		strconv.FormatInt(r.CandAnswerID, 10),
		strconv.FormatFloat(r.VectorSim, 'g', -1, 64),
		strconv.FormatFloat(r.TrigramSim, 'g', -1, 64),
		strconv.FormatFloat(r.HybridScore, 'g', -1, 64),
		strconv.Itoa(r.Label),
	}
}

// LTRQuery is a phrase whose correct answer is known.
type LTRQuery struct {
	Text     string
	AnswerID int64
}

// LTRKey identifies an exported query for resuming.
type LTRKey struct {
	Query    string
	AnswerID int64
}

// ltrSeed fixes the sample drawn by LoadLTRQueries.
const ltrSeed = 42

// LoadLTRQueries reads search_text,answer_id rows, dropping answers in
// exclude so evaluation answers never leak into training data. When limit
// is positive and smaller than the row count, a fixed-seed random sample
// of limit rows is returned.
func LoadLTRQueries(r io.Reader, exclude map[int64]bool, limit int) ([]LTRQuery, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, qaerrors.ValidationError("cannot read phrase header", err)
	}
	textCol, idCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "search_text":
			textCol = i
		case "answer_id":
			idCol = i
		}
	}
	if textCol < 0 || idCol < 0 {
		return nil, qaerrors.ValidationError("phrase file needs search_text and answer_id columns", nil)
	}

	var out []LTRQuery
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, qaerrors.ValidationError("cannot read phrase file", err)
		}
		if textCol >= len(rec) || idCol >= len(rec) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[idCol]), 10, 64)
		if err != nil || exclude[id] {
			continue
		}
		out = append(out, LTRQuery{Text: rec[textCol], AnswerID: id})
	}

	if limit > 0 && len(out) > limit {
		rng := rand.New(rand.NewPCG(ltrSeed, ltrSeed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		out = out[:limit]
	}
	return out, nil
}

// AnswerIDs returns the set of expected answers of rows.
func AnswerIDs(rows []Row) map[int64]bool {
	out := make(map[int64]bool, len(rows))
	for _, r := range rows {
		out[r.AnswerID] = true
	}
	return out
}

// ReadDone lists the queries already present in an LTR export.
func ReadDone(r io.Reader) (map[LTRKey]bool, error) {
	rows, err := LoadLTR(r)
	if err != nil {
		return nil, err
	}
	done := make(map[LTRKey]bool)
	for _, row := range rows {
		done[LTRKey{Query: row.Query, AnswerID: row.GoldAnswerID}] = true
	}
	return done, nil
}

// MergeFeatures joins the three match results by answer id, in order of
// first appearance across vector, lexical and hybrid. A feature missing
// from a list is zero.
func MergeFeatures(vector, lexical, hybrid []search.Result) []LTRRow {
	var out []LTRRow
	pos := make(map[int64]int)
	row := func(id int64) *LTRRow {
		i, ok := pos[id]
		if !ok {
			i = len(out)
			pos[id] = i
			out = append(out, LTRRow{CandAnswerID: id})
		}
		return &out[i]
	}
	for _, r := range vector {
		row(r.AnswerID).VectorSim = r.Similarity
	}
	for _, r := range lexical {
		row(r.AnswerID).TrigramSim = r.Trigram
	}
	for _, r := range hybrid {
		row(r.AnswerID).HybridScore = r.Score
	}
	return out
}

// FeatureSource is the subset of the search engine the LTR export calls.
type FeatureSource interface {
	VectorMatch(ctx context.Context, embedding []float32, matchCount int) ([]search.Result, error)
	LexicalMatch(ctx context.Context, text string, matchCount int) ([]search.Result, error)
	HybridMatch(ctx context.Context, text string, embedding []float32, matchCount int) ([]search.Result, error)
}

// ExportStats counts an export.
type ExportStats struct {
	Queries int `json:"queries"`
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// Exporter writes an LTR training set by querying every match mode.
type Exporter struct {
	src      FeatureSource
	embedder embed.Embedder
	topK     int
	logger   *slog.Logger
}

// NewExporter creates an exporter retrieving topK candidates per mode.
func NewExporter(src FeatureSource, e embed.Embedder, topK int) (*Exporter, error) {
	if src == nil || e == nil {
		return nil, fmt.Errorf("ltr exporter: nil dependency")
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if err := search.ValidateMatchCount(topK); err != nil {
		return nil, err
	}
	return &Exporter{src: src, embedder: e, topK: topK, logger: slog.Default()}, nil
}

// Export writes one row per candidate of every query not in done. The
// header is written only when writeHeader is set, so an existing file can
// be appended to. Output is flushed after each query.
func (x *Exporter) Export(ctx context.Context, w io.Writer, queries []LTRQuery, done map[LTRKey]bool, writeHeader bool) (ExportStats, error) {
	var stats ExportStats
	cw := csv.NewWriter(w)
	if writeHeader {
		if err := cw.Write(ltrColumns); err != nil {
			return stats, err
		}
	}

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if done[LTRKey{Query: q.Text, AnswerID: q.AnswerID}] {
			stats.Skipped++
			continue
		}
		rows, err := x.features(ctx, q)
		if err != nil {
			cw.Flush()
			return stats, fmt.Errorf("ltr export %q: %w", q.Text, err)
		}
		for _, r := range rows {
			if err := cw.Write(r.record()); err != nil {
				return stats, err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return stats, err
		}
		stats.Queries++
		stats.Rows += len(rows)
	}
	x.logger.Info("ltr export finished",
		slog.Int("queries", stats.Queries),
		slog.Int("rows", stats.Rows),
		slog.Int("skipped", stats.Skipped))
	return stats, nil
}

func (x *Exporter) features(ctx context.Context, q LTRQuery) ([]LTRRow, error) {
	emb, err := x.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	vec, err := x.src.VectorMatch(ctx, emb, x.topK)
	if err != nil {
		return nil, err
	}
	lex, err := x.src.LexicalMatch(ctx, q.Text, x.topK)
	if err != nil {
		return nil, err
	}
	hyb, err := x.src.HybridMatch(ctx, q.Text, emb, x.topK)
	if err != nil {
		return nil, err
	}
	rows := MergeFeatures(vec, lex, hyb)
	for i := range rows {
		rows[i].Query = q.Text
		rows[i].GoldAnswerID = q.AnswerID
		if rows[i].CandAnswerID == q.AnswerID {
			rows[i].Label = 1
		}
	}
	return rows, nil
}

// LoadLTR reads an LTR dataset. The label column is optional.
func LoadLTR(r io.Reader) ([]LTRRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, qaerrors.ValidationError("cannot read ltr header", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, c := range ltrColumns[:6] {
		if _, ok := cols[c]; !ok {
			return nil, qaerrors.ValidationError(fmt.Sprintf("ltr dataset is missing column %q", c), nil)
		}
	}

	var out []LTRRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, qaerrors.ValidationError(fmt.Sprintf("ltr dataset line %d", line), err)
		}
		p := ltrParser{rec: rec, cols: cols}
		row := LTRRow{
			Query:        p.str("query"),
			GoldAnswerID: p.integer("gold_answer_id"),
			CandAnswerID: p.integer("cand_answer_id"),
			VectorSim:    p.number("vector_sim"),
			TrigramSim:   p.number("trigram_sim"),
			HybridScore:  p.number("hybrid_score"),
			Label:        int(p.integer("label")),
		}
		if p.err != nil {
			return nil, qaerrors.ValidationError(fmt.Sprintf("ltr dataset line %d", line), p.err)
		}
		out = append(out, row)
	}
}

type ltrParser struct {
	rec  []string
	cols map[string]int
	err  error
}

func (p *ltrParser) str(name string) string {
	i, ok := p.cols[name]
	if !ok || i >= len(p.rec) {
		return ""
	}
	return p.rec[i]
}

func (p *ltrParser) integer(name string) int64 {
	s := strings.TrimSpace(p.str(name))
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (p *ltrParser) number(name string) float64 {
	s := strings.TrimSpace(p.str(name))
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

// Comparison methods.
const (
	MethodVectorOnly = "vector_only_rank"
	MethodTrigram    = "trigram_only_rank"
	MethodHybrid     = "hybrid_rank"
	MethodLogistic   = "ltr_logreg_rerank"
)

type rankMethod struct {
	name  string
	score func(LTRRow) float64
}

// Compare ranks each query's candidates by one feature at a time and, when
// rr is set, by the logistic reranker's probability, and summarises every
// ordering. Rows are grouped by query text in order of first appearance.
func Compare(rows []LTRRow, rr *search.LinearReranker) []Summary {
	var order []string
	groups := make(map[string][]LTRRow)
	for _, r := range rows {
		if _, ok := groups[r.Query]; !ok {
			order = append(order, r.Query)
		}
		groups[r.Query] = append(groups[r.Query], r)
	}

	methods := []rankMethod{
		{MethodVectorOnly, func(r LTRRow) float64 { return r.VectorSim }},
		{MethodTrigram, func(r LTRRow) float64 { return r.TrigramSim }},
		{MethodHybrid, func(r LTRRow) float64 { return r.HybridScore }},
	}
	if rr != nil {
		methods = append(methods, rankMethod{MethodLogistic, func(r LTRRow) float64 {
			return rr.Probability(search.Features{
				VectorSimilarity: r.VectorSim,
				TrigramScore:     r.TrigramSim,
				FusedScore:       r.HybridScore,
			})
		}})
	}

	out := make([]Summary, 0, len(methods))
	for _, m := range methods {
		ranks := make([]int, 0, len(order))
		for _, q := range order {
			ranks = append(ranks, rankBy(groups[q], m.score))
		}
		out = append(out, Summarize(m.name, ranks))
	}
	return out
}

// rankBy orders one query's candidates by score, highest first, and returns
// the rank of its gold answer.
func rankBy(group []LTRRow, score func(LTRRow) float64) int {
	sorted := make([]LTRRow, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool { return score(sorted[i]) > score(sorted[j]) })
	ids := make([]int64, len(sorted))
	for i, r := range sorted {
		ids[i] = r.CandAnswerID
	}
	return RankOf(group[0].GoldAnswerID, ids)
}
