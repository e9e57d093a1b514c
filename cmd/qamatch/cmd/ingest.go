package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/ingest"
	"github.com/Aman-CERP/qamatch/internal/output"
	"github.com/Aman-CERP/qamatch/internal/ui"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load knowledge-base chunks and build the answer index",
		Long: `Load knowledge-base chunks and build the answer index.

'stage' reads a JSONL file of {"text_chunk": "..."} lines, each holding a
question and its answer, and stores them with their embeddings.
'build' derives answers and rule-based index entries from every staged
chunk. Both steps skip rows that already exist.`,
		Example: `  qamatch ingest stage kb.jsonl
  qamatch ingest build`,
	}

	cmd.AddCommand(newIngestStageCmd())
	cmd.AddCommand(newIngestBuildCmd())

	return cmd
}

func newIngestStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <file.jsonl>",
		Short: "Stage chunks from a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestStage(cmd, args[0])
		},
	}
}

func newIngestBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build answers and index entries from staged chunks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngestBuild(cmd)
		},
	}
}

func runIngestStage(cmd *cobra.Command, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(path)
	if err != nil {
		return qaerrors.ValidationError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer func() { _ = f.Close() }()

	texts, err := ingest.LoadJSONL(f)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := ingest.NewStager(a.store, a.embedder, a.cfg.Embeddings.BatchSize).Stage(ctx, texts)
	if err != nil {
		return err
	}
	slog.Info("chunks_staged", slog.String("file", path),
		slog.Int("inserted", res.Inserted), slog.Int("skipped", res.Skipped))

	out := output.New(cmd.OutOrStdout())
	out.Successf("Staged %d chunk(s), %d already present", res.Inserted, res.Skipped)
	return nil
}

func runIngestBuild(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	renderer := newRenderer(cmd, "qamatch build", "rows", ui.BuildStages...)
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	builder := ingest.NewBuilder(a.store, a.embedder,
		ingest.BuilderConfig{
			BatchSize: a.cfg.Embeddings.BatchSize,
			LockPath:  a.cfg.Paraphrase.LockFile,
		},
		ingest.WithLogger(slog.Default()),
		ingest.WithProgress(func(p ingest.Progress) {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StageFromName(p.Stage),
				Current: p.Current,
				Total:   p.Total,
			})
		}),
	)

	report, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Title: "Build complete",
		Counts: []ui.Count{
			{Label: "chunks", Value: report.Chunks},
			{Label: "parsed", Value: report.Parsed},
			{Label: "answers", Value: report.Answers.Inserted},
			{Label: "entries", Value: report.Entries.Inserted},
			{Label: "existing entries", Value: report.Entries.Skipped},
		},
		Duration: report.Duration,
	})
	return nil
}
