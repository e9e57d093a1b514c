package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/api"
	"github.com/Aman-CERP/qamatch/internal/backlog"
)

// refreshInterval is how often a local store reloads entries written by
// other processes, such as a running expansion.
const refreshInterval = 30 * time.Second

// refresher is implemented by stores that index in process memory.
type refresher interface {
	Refresh(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval RPC endpoints over HTTP",
		Long: `Serve the retrieval operations as JSON RPC endpoints:

  POST /rpc/match_qa_vector, /rpc/match_qa_index, /rpc/match_qa_trigram,
       /rpc/match_qa_hybrid, /rpc/get_paraphrase_candidates,
       /rpc/mark_paraphrase_done, /rpc/eval_match_vector, /rpc/eval_match_hybrid
  GET  /healthz, /metrics, /debug/unanswered`,
		Example: `  qamatch serve
  qamatch serve --addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, addr string) error {
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
	selector := backlog.NewSelector(a.store, a.store)

	srv, err := api.New(engine, selector,
		api.WithMetrics(a.metrics),
		api.WithQueryMetrics(a.queries),
		api.WithHealthCheck(func(ctx context.Context) error {
			_, err := a.store.Stats(ctx)
			return err
		}),
		api.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	if r, ok := a.store.(refresher); ok {
		go refreshLoop(ctx, r)
	}

	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	cmd.PrintErrf("qamatch listening on %s\n", addr)
	return srv.Run(ctx, addr)
}

func refreshLoop(ctx context.Context, r refresher) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Warn("store refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
