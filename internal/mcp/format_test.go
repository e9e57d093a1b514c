package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/qamatch/internal/backlog"
)

func TestFormatMatch_WithAnswer(t *testing.T) {
	answer := AnswerRow{Rank: 1, AnswerID: 7, SearchText: "Как оформить отпуск?", Language: "ru", Score: 0.72, Similarity: 0.9, Trigram: 0.5}
	out := &MatchOutput{
		Query:   "отпуск",
		Mode:    "hybrid",
		Answer:  &answer,
		Results: []AnswerRow{answer},
	}

	text := FormatMatch(out)

	assert.Contains(t, text, "## Answer #7 (score: 0.72)")
	assert.Contains(t, text, "### hybrid candidates for \"отпуск\"")
	assert.Contains(t, text, "1. **#7** score: 0.720 (vector 0.900, trigram 0.500) [ru]")
}

func TestFormatMatch_NotFound(t *testing.T) {
	out := &MatchOutput{Query: "x", Mode: "lexical", NotFound: "Not found in the knowledge base."}

	text := FormatMatch(out)

	assert.Equal(t, "Not found in the knowledge base.\n", text)
}

func TestFormatMatch_FlattensAndTruncatesText(t *testing.T) {
	long := strings.Repeat("абв ", 100)
	out := &MatchOutput{
		Mode:     "vector",
		NotFound: "nf",
		Results:  []AnswerRow{{Rank: 1, AnswerID: 2, SearchText: "line one\nline two " + long}},
	}

	text := FormatMatch(out)

	assert.Contains(t, text, "line one line two")
	assert.Contains(t, text, "...")
}

func TestFormatBacklog(t *testing.T) {
	assert.Equal(t, "Paraphrase backlog is empty.", FormatBacklog(&BacklogOutput{}))

	out := &BacklogOutput{Count: 2, Items: []backlog.Item{
		{AnswerID: 1, Language: "kk", SearchText: "Анықтама алу", BaseHash: "0123456789abcdef"},
		{AnswerID: 2, Language: "ru", SearchText: "Справка", BaseHash: "ff"},
	}}

	text := FormatBacklog(out)

	assert.Contains(t, text, "2 items")
	assert.Contains(t, text, "- `0123456789ab` #1 [kk] Анықтама алу")
	assert.Contains(t, text, "- `ff` #2 [ru] Справка")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "жы...", truncate("жыл", 2))
}
