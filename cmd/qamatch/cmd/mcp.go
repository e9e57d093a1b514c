package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/backlog"
	"github.com/Aman-CERP/qamatch/internal/config"
	"github.com/Aman-CERP/qamatch/internal/logging"
	"github.com/Aman-CERP/qamatch/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server over stdio",
		Long: `Run the Model Context Protocol server over stdio.

Tools: hybrid_match, vector_match, lexical_match, paraphrase_backlog.
Resource: qamatch://query_metrics.

Stdout carries JSON-RPC only; logs go to ~/.qamatch/logs/qamatch.log.`,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	// Nothing may reach stdout before the transport starts.
	if !loggerFixed {
		logger, cleanup, err := logging.SetupMCP(config.DataDir(), "info")
		if err != nil {
			return fmt.Errorf("failed to setup MCP logging: %w", err)
		}
		loggingCleanup = cleanup
		loggerFixed = true
		slog.SetDefault(logger)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		slog.Error("MCP startup failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(engine, backlog.NewSelector(a.store, a.store), a.embedder,
		mcp.WithLogger(slog.Default()),
		mcp.WithThreshold(a.cfg.Search.NoAnswerThreshold),
	)
	if err != nil {
		return err
	}
	srv.SetMetrics(a.queries)

	return srv.Serve(ctx)
}
