package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/output"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode   string // "hybrid", "vector", "lexical"
	limit  int
	format string // "text", "json"
}

// searchOutput is the --format json document.
type searchOutput struct {
	Query    string          `json:"query"`
	Mode     string          `json:"mode"`
	Language string          `json:"lang"`
	Answer   *search.Result  `json:"answer,omitempty"`
	NotFound string          `json:"not_found,omitempty"`
	Results  []search.Result `json:"results"`
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Match a question against the answer index",
		Long: `Match a question against the answer index.

Hybrid mode fuses embedding similarity with trigram similarity. When the
best fused score is below search.no_answer_threshold the not-found message
is printed in the question's language.`,
		Example: `  qamatch search "how do I reset my password"
  qamatch search "құпия сөзді қалай өзгертемін" --limit 5
  qamatch search "пароль" --mode lexical --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(search.ModeHybrid), "Retrieval mode: hybrid, vector, lexical")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.match_count)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return qaerrors.ValidationError("query is empty", nil)
	}
	if opts.limit < 0 {
		return qaerrors.ValidationError(fmt.Sprintf("--limit must not be negative, got %d", opts.limit), nil)
	}
	if opts.format != "text" && opts.format != "json" {
		return qaerrors.ValidationError(fmt.Sprintf("--format must be 'text' or 'json', got %q", opts.format), nil)
	}
	mode := search.Mode(strings.ToLower(opts.mode))
	switch mode {
	case search.ModeHybrid, search.ModeVector, search.ModeLexical:
	default:
		return qaerrors.ValidationError(fmt.Sprintf("--mode must be 'hybrid', 'vector' or 'lexical', got %q", opts.mode), nil)
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	slog.Info("search_started", slog.String("mode", string(mode)), slog.Int("limit", opts.limit))

	var results []search.Result
	if mode == search.ModeLexical {
		results, err = engine.LexicalMatch(ctx, query, opts.limit)
	} else {
		embedding, embedErr := a.embedder.Embed(ctx, query)
		if embedErr != nil {
			return qaerrors.Wrap(qaerrors.ErrCodeEmbeddingFailed, embedErr)
		}
		if mode == search.ModeVector {
			results, err = engine.VectorMatch(ctx, embedding, opts.limit)
		} else {
			results, err = engine.HybridMatch(ctx, query, embedding, opts.limit)
		}
	}
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.String("mode", string(mode)), slog.Int("results", len(results)))

	res := searchOutput{
		Query:    query,
		Mode:     string(mode),
		Language: textnorm.DetectLanguage(query),
		Results:  results,
	}
	if res.Results == nil {
		res.Results = []search.Result{}
	}
	if best, ok := search.TopAnswer(results, a.cfg.Search.NoAnswerThreshold); ok {
		res.Answer = &best
	} else {
		res.NotFound = textnorm.NotFoundMessage(res.Language)
	}

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return out.JSON(res)
	}
	return printSearch(out, res)
}

func printSearch(out *output.Writer, res searchOutput) error {
	if res.Answer != nil {
		out.Successf("Answer #%d (score %.3f)", res.Answer.AnswerID, res.Answer.Score)
		out.Code(res.Answer.SearchText)
	} else {
		out.Warning(res.NotFound)
	}
	if len(res.Results) == 0 {
		return nil
	}

	out.Newline()
	rows := make([][]string, 0, len(res.Results))
	for i, r := range res.Results {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(r.AnswerID, 10),
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%.3f", r.Similarity),
			fmt.Sprintf("%.3f", r.Trigram),
			r.Language,
			clip(r.SearchText, 60),
		})
	}
	return out.Table([]string{"#", "ANSWER", "SCORE", "VECTOR", "TRIGRAM", "LANG", "TEXT"}, rows)
}

// clip shortens s to n runes on one line.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
