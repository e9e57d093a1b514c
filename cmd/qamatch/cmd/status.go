package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/store"
	"github.com/Aman-CERP/qamatch/internal/ui"
)

// embedderProbeTimeout bounds the embedder availability check.
const embedderProbeTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and embedder status",
		Long: `Show row counts of the answer index and whether the embedding
backend is reachable.`,
		Example: `  qamatch status
  qamatch status --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()
	embedderStatus := "offline"
	if a.embedder.Available(probeCtx) {
		embedderStatus = "ready"
	}

	info := ui.StatusInfo{
		Backend:          stats.Backend,
		Location:         store.Location(storeConfig(a.cfg)),
		Answers:          stats.Answers,
		Entries:          stats.Entries,
		Chunks:           stats.Chunks,
		LedgerHashes:     stats.LedgerHashes,
		EmbedderProvider: a.cfg.Embeddings.Provider,
		EmbedderModel:    a.embedder.ModelName(),
		Dimensions:       a.embedder.Dimensions(),
		EmbedderStatus:   embedderStatus,
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColorFlag(cmd))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}
