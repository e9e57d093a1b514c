package mcp

import (
	"github.com/Aman-CERP/qamatch/internal/backlog"
	"github.com/Aman-CERP/qamatch/internal/search"
)

// Tool names.
const (
	ToolHybridMatch       = "hybrid_match"
	ToolVectorMatch       = "vector_match"
	ToolLexicalMatch      = "lexical_match"
	ToolParaphraseBacklog = "paraphrase_backlog"
)

// MatchInput is the input for the three match tools.
type MatchInput struct {
	Query string `json:"query" jsonschema:"question text in Kazakh, Russian or English"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum answers to return (default 20, max 50)"`
}

// MatchOutput is the structured result of a match tool.
type MatchOutput struct {
	Query    string      `json:"query"`
	Mode     string      `json:"mode"`
	Language string      `json:"lang"`
	Answer   *AnswerRow  `json:"answer,omitempty"`
	NotFound string      `json:"not_found,omitempty"`
	Results  []AnswerRow `json:"results"`
}

// AnswerRow is one ranked answer.
type AnswerRow struct {
	Rank       int     `json:"rank"`
	AnswerID   int64   `json:"answer_id"`
	SearchText string  `json:"search_text"`
	Language   string  `json:"lang,omitempty"`
	Similarity float64 `json:"similarity"`
	Trigram    float64 `json:"trigram"`
	Score      float64 `json:"score"`
}

// BacklogInput is the input for paraphrase_backlog.
type BacklogInput struct {
	MaxRows int `json:"max_rows,omitempty" jsonschema:"maximum rows to return (default 350)"`
}

// BacklogOutput lists paraphrase candidates.
type BacklogOutput struct {
	Count int            `json:"count"`
	Items []backlog.Item `json:"items"`
}

func toAnswerRow(r search.Result) AnswerRow {
	return AnswerRow{
		Rank:       r.Rank,
		AnswerID:   r.AnswerID,
		SearchText: r.SearchText,
		Language:   r.Language,
		Similarity: r.Similarity,
		Trigram:    r.Trigram,
		Score:      r.Score,
	}
}
