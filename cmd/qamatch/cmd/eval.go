package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/eval"
	"github.com/Aman-CERP/qamatch/internal/llm"
	"github.com/Aman-CERP/qamatch/internal/output"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/ui"
)

// evalRunOptions holds CLI flags for eval run.
type evalRunOptions struct {
	topK       int
	maxRows    int
	workers    int
	rewrite    bool
	policy     string
	breakdown  []string
	failures   string
	jsonOutput bool
}

// ltrExportOptions holds CLI flags for eval export-ltr.
type ltrExportOptions struct {
	phrases string
	exclude string
	limit   int
	topK    int
	out     string
}

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure retrieval quality",
		Long: `Measure retrieval quality against labeled questions.

'run' reports Recall@K, MRR@K, hit rate and ranks per mode.
'export-ltr' writes per-candidate features for training a reranker.
'compare' ranks exported candidates by each feature and by the
configured reranker.`,
		Example: `  qamatch eval run eval.csv --breakdown lang,topic
  qamatch eval run eval.csv --rewrite --policy always --failures misses.csv
  qamatch eval export-ltr --phrases phrases.csv --exclude eval.csv --out ltr.csv
  qamatch eval compare ltr.csv`,
	}

	cmd.AddCommand(newEvalRunCmd())
	cmd.AddCommand(newEvalExportCmd())
	cmd.AddCommand(newEvalCompareCmd())

	return cmd
}

func newEvalRunCmd() *cobra.Command {
	var opts evalRunOptions

	cmd := &cobra.Command{
		Use:   "run <eval.csv>",
		Short: "Evaluate vector and hybrid retrieval",
		Long: `Evaluate labeled questions with columns qid, question, answer_id and
optionally lang, topic, qtype and split.

With --rewrite, questions the policy selects are first rewritten by the
chat model and reported as the hybrid_rewrite mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", eval.DefaultTopK, "Answers retrieved per question")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 0, "Evaluate only the first N rows (0 = all)")
	cmd.Flags().IntVar(&opts.workers, "workers", eval.DefaultWorkers, "Concurrent questions")
	cmd.Flags().BoolVar(&opts.rewrite, "rewrite", false, "Also evaluate LLM-rewritten questions")
	cmd.Flags().StringVar(&opts.policy, "policy", string(eval.RewriteFollowUpOnly), "Rewrite policy: always, followup_only, never")
	cmd.Flags().StringSliceVar(&opts.breakdown, "breakdown", nil, "Break down by: lang, topic, qtype, split")
	cmd.Flags().StringVar(&opts.failures, "failures", "", "Write missed questions to this CSV file")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}

func newEvalExportCmd() *cobra.Command {
	var opts ltrExportOptions

	cmd := &cobra.Command{
		Use:   "export-ltr",
		Short: "Export learning-to-rank features",
		Long: `Export per-candidate features for learning to rank.

Queries are read from --phrases (search_text, answer_id). Answers in the
--exclude eval file are dropped so training never sees evaluation answers.
An existing --out file is resumed: queries already in it are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvalExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.phrases, "phrases", "", "Phrase CSV with search_text and answer_id columns")
	cmd.Flags().StringVar(&opts.exclude, "exclude", "", "Eval CSV whose answers are excluded")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Sample at most N queries (0 = all)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", eval.DefaultTopK, "Candidates per mode")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "ltr.csv", "Output CSV file")
	_ = cmd.MarkFlagRequired("phrases")

	return cmd
}

func newEvalCompareCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "compare <ltr.csv>",
		Short: "Compare rankings of exported candidates",
		Long: `Rank each query's exported candidates by vector similarity, trigram
similarity and hybrid score, and by the configured reranker when it has
non-zero weights.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvalCompare(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runEval(cmd *cobra.Command, path string, opts evalRunOptions) error {
	policy, err := eval.ParseRewritePolicy(opts.policy)
	if err != nil {
		return qaerrors.ValidationError(err.Error(), err)
	}
	for _, by := range opts.breakdown {
		if !slices.Contains(eval.Dimensions, by) {
			return qaerrors.ValidationError(fmt.Sprintf("unknown breakdown %q (want lang, topic, qtype or split)", by), nil)
		}
	}

	rows, err := eval.LoadFile(path, opts.maxRows)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	renderer := newRenderer(cmd, "qamatch eval", "questions", ui.EvalStages...)

	hopts := []eval.Option{
		eval.WithLogger(slog.Default()),
		eval.WithProgress(func(p eval.Progress) {
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEvaluate, Current: p.Done, Total: p.Total})
		}),
	}
	if opts.rewrite {
		completer, err := llm.New(llmConfig(a.cfg))
		if err != nil {
			return err
		}
		hopts = append(hopts, eval.WithRewriter(eval.NewRewriter(completer)))
	}

	harness, err := eval.NewHarness(engine, a.embedder, eval.Config{
		TopK:    opts.topK,
		Policy:  policy,
		Workers: opts.workers,
	}, hopts...)
	if err != nil {
		return err
	}

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	report, err := harness.Run(ctx, rows)
	if err != nil {
		_ = renderer.Stop()
		return err
	}
	renderer.Complete(ui.CompletionStats{
		Title:    "Evaluation complete",
		Counts:   []ui.Count{{Label: "questions", Value: len(report.Rows)}, {Label: "rewritten", Value: report.Rewritten}},
		Duration: report.Duration,
	})
	if err := renderer.Stop(); err != nil {
		return err
	}

	if opts.failures != "" {
		if err := writeFailures(cmd, opts.failures, report); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if opts.jsonOutput {
		return output.New(w).JSON(report)
	}
	if err := eval.WriteSummary(w, report); err != nil {
		return err
	}
	for _, by := range opts.breakdown {
		if err := eval.WriteBreakdown(w, report, by); err != nil {
			return err
		}
	}
	return nil
}

func writeFailures(cmd *cobra.Command, path string, report *eval.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := eval.WriteFailures(f, report)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	cmd.PrintErrf("wrote %d missed question(s) to %s\n", n, path)
	return nil
}

func runEvalExport(cmd *cobra.Command, opts ltrExportOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exclude := map[int64]bool{}
	if opts.exclude != "" {
		rows, err := eval.LoadFile(opts.exclude, 0)
		if err != nil {
			return err
		}
		exclude = eval.AnswerIDs(rows)
	}

	queries, err := loadLTRQueries(opts.phrases, exclude, opts.limit)
	if err != nil {
		return err
	}

	done, existing, err := readLTRDone(opts.out)
	if err != nil {
		return err
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
	exporter, err := eval.NewExporter(engine, a.embedder, opts.topK)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(opts.out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", opts.out, err)
	}
	stats, err := exporter.Export(ctx, f, queries, done, !existing)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("Exported %d queries (%d rows) to %s, %d already present",
		stats.Queries, stats.Rows, opts.out, stats.Skipped)
	return nil
}

func loadLTRQueries(path string, exclude map[int64]bool, limit int) ([]eval.LTRQuery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qaerrors.ValidationError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer func() { _ = f.Close() }()
	return eval.LoadLTRQueries(f, exclude, limit)
}

// readLTRDone returns the queries already exported to path and whether the
// file has content.
func readLTRDone(path string) (map[eval.LTRKey]bool, bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return map[eval.LTRKey]bool{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()
	done, err := eval.ReadDone(f)
	if err != nil {
		return nil, false, err
	}
	return done, true, nil
}

func runEvalCompare(cmd *cobra.Command, path string, jsonOutput bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return qaerrors.ValidationError(fmt.Sprintf("cannot open %s", path), err)
	}
	rows, err := eval.LoadLTR(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	var rr *search.LinearReranker
	if w := rerankWeights(cfg); w != (search.LinearWeights{}) {
		rr = search.NewLinearReranker(w)
	}
	summaries := eval.Compare(rows, rr)

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		return out.JSON(summaries)
	}
	table := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		table = append(table, []string{
			s.Mode,
			strconv.Itoa(s.N),
			fmt.Sprintf("%.3f", s.Recall(1)),
			fmt.Sprintf("%.3f", s.Recall(5)),
			fmt.Sprintf("%.3f", s.Recall(10)),
			fmt.Sprintf("%.3f", s.MRR(10)),
			fmt.Sprintf("%.2f", s.MeanRank),
		})
	}
	return out.Table([]string{"METHOD", "N", "R@1", "R@5", "R@10", "MRR@10", "MEAN RANK"}, table)
}
