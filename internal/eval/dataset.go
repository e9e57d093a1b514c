// Package eval measures retrieval quality against a labeled query set.
//
// Each labeled question is run through the same engine calls the RPC
// surface exposes, and the rank of the expected answer is aggregated into
// Recall@K, MRR@K and rank statistics per retrieval mode.
package eval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// Row is one labeled question.
type Row struct {
	QID      string
	Question string
	AnswerID int64
	Lang     string
	Topic    string
	QType    string
	Split    string
}

var requiredColumns = []string{"qid", "question", "answer_id"}

// LoadFile reads a labeled CSV file. maxRows > 0 keeps only the first
// maxRows rows.
func LoadFile(path string, maxRows int) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "cannot open eval set", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()
	return LoadCSV(f, maxRows)
}

// LoadCSV reads rows with the header qid,question,answer_id and the
// optional grouping columns lang, topic, qtype and split.
func LoadCSV(r io.Reader, maxRows int) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, qaerrors.ValidationError("eval set is empty", nil)
		}
		return nil, qaerrors.ValidationError("cannot read eval header", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, qaerrors.ValidationError(fmt.Sprintf("eval set is missing column %q", c), nil).
				WithSuggestion("Expected header: qid,question,answer_id,lang,topic,qtype,split")
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for line := 2; maxRows <= 0 || len(rows) < maxRows; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, qaerrors.ValidationError(fmt.Sprintf("eval set line %d", line), err)
		}
		id, err := strconv.ParseInt(field(rec, "answer_id"), 10, 64)
		if err != nil {
			return nil, qaerrors.ValidationError(fmt.Sprintf("eval set line %d: bad answer_id", line), err)
		}
		rows = append(rows, Row{
			QID:      field(rec, "qid"),
			Question: field(rec, "question"),
			AnswerID: id,
			Lang:     field(rec, "lang"),
			Topic:    field(rec, "topic"),
			QType:    field(rec, "qtype"),
			Split:    field(rec, "split"),
		})
	}
	return rows, nil
}
