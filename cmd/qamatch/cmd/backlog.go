package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/backlog"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/llm"
	"github.com/Aman-CERP/qamatch/internal/output"
	"github.com/Aman-CERP/qamatch/internal/ui"
)

func newBacklogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Inspect and expand the paraphrase backlog",
		Long: `Inspect and expand the paraphrase backlog.

The backlog holds short rule phrases (at most 40 characters or 2 words)
whose hash is not yet in the expansion ledger. Expanding a phrase asks the chat model for
paraphrases, embeds them and inserts them as new index entries for the
same answer; the phrase is then marked done.`,
		Example: `  qamatch backlog list --max-rows 20
  qamatch backlog expand
  qamatch backlog mark-done 3f2a...`,
	}

	cmd.AddCommand(newBacklogListCmd())
	cmd.AddCommand(newBacklogExpandCmd())
	cmd.AddCommand(newBacklogMarkDoneCmd())

	return cmd
}

func newBacklogListCmd() *cobra.Command {
	var (
		maxRows    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backlog phrases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacklogList(cmd.Context(), cmd, maxRows, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&maxRows, "max-rows", 50, "Maximum number of phrases")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newBacklogExpandCmd() *cobra.Command {
	var (
		maxRows int
		perItem int
		workers int
	)

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Paraphrase backlog phrases into new index entries",
		Long: `Paraphrase up to --max-rows backlog phrases with the chat model.

Only one expansion runs at a time; a second run fails while the lock file
(paraphrase.lock_file) is held. A phrase that fails stays in the backlog
for the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacklogExpand(cmd, backlog.RunnerConfig{MaxRows: maxRows, PerItem: perItem, Workers: workers})
		},
	}

	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "Phrases per run (default: paraphrase.max_rows)")
	cmd.Flags().IntVar(&perItem, "per-item", 0, "Paraphrases requested per phrase (default: paraphrase.per_item)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent phrases (default: paraphrase.workers)")

	return cmd
}

func newBacklogMarkDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-done <hash>...",
		Short: "Record base phrase hashes as expanded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacklogMarkDone(cmd.Context(), cmd, args)
		},
	}
}

func runBacklogList(ctx context.Context, cmd *cobra.Command, maxRows int, jsonOutput bool) error {
	if maxRows < 1 {
		return qaerrors.ValidationError(fmt.Sprintf("--max-rows must be at least 1, got %d", maxRows), nil)
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	items, err := backlog.NewSelector(a.store, a.store).SelectBacklog(ctx, maxRows)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		if items == nil {
			items = []backlog.Item{}
		}
		return out.JSON(items)
	}
	if len(items) == 0 {
		out.Success("Paraphrase backlog is empty")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.BaseHash,
			strconv.FormatInt(it.AnswerID, 10),
			it.Language,
			clip(it.SearchText, 60),
		})
	}
	return out.Table([]string{"HASH", "ANSWER", "LANG", "TEXT"}, rows)
}

func runBacklogExpand(cmd *cobra.Command, flags backlog.RunnerConfig) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	completer, err := llm.New(llmConfig(a.cfg))
	if err != nil {
		return err
	}

	rc := backlog.RunnerConfig{
		MaxRows:  a.cfg.Paraphrase.MaxRows,
		PerItem:  a.cfg.Paraphrase.PerItem,
		Workers:  a.cfg.Paraphrase.Workers,
		LockPath: a.cfg.Paraphrase.LockFile,
	}
	if flags.MaxRows > 0 {
		rc.MaxRows = flags.MaxRows
	}
	if flags.PerItem > 0 {
		rc.PerItem = flags.PerItem
	}
	if flags.Workers > 0 {
		rc.Workers = flags.Workers
	}

	renderer := newRenderer(cmd, "qamatch expand", "phrases", ui.ExpandStages...)
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	failed := 0
	runner, err := backlog.NewRunner(
		backlog.NewSelector(a.store, a.store),
		backlog.NewLLMParaphraser(completer),
		a.embedder,
		a.store,
		rc,
		backlog.WithMetrics(a.metrics),
		backlog.WithLogger(slog.Default()),
		backlog.WithProgress(func(p backlog.Progress) {
			if p.Failed > failed {
				failed = p.Failed
				renderer.AddError(ui.ErrorEvent{Item: p.Last, Err: fmt.Errorf("expansion failed"), IsWarn: true})
			}
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageExpand, Current: p.Done, Total: p.Total, Item: p.Last})
		}),
	)
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Title: "Expansion complete",
		Counts: []ui.Count{
			{Label: "selected", Value: report.Selected},
			{Label: "expanded", Value: report.Expanded},
			{Label: "inserted", Value: report.Inserted},
			{Label: "duplicates", Value: report.Skipped},
			{Label: "marked", Value: report.Marked},
		},
		Duration: report.Duration,
		Warnings: report.Failed,
	})
	return nil
}

func runBacklogMarkDone(ctx context.Context, cmd *cobra.Command, hashes []string) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	selector := backlog.NewSelector(a.store, a.store)
	out := output.New(cmd.OutOrStdout())
	for _, h := range hashes {
		inserted, err := selector.MarkDone(ctx, h)
		if err != nil {
			return err
		}
		if inserted {
			out.Successf("Marked %s", h)
		} else {
			out.Statusf("·", "%s was already marked", h)
		}
	}
	return nil
}
