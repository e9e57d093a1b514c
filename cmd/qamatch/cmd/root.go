// Package cmd provides the CLI commands for qamatch.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/config"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/logging"
	"github.com/Aman-CERP/qamatch/internal/profiling"
	"github.com/Aman-CERP/qamatch/pkg/version"
)

// Logging and profiling state shared by the commands of one invocation.
var (
	debugMode      bool
	loggingCleanup func()

	// loggerFixed keeps configureLogging from replacing a logger chosen by
	// --debug or by the MCP command.
	loggerFixed bool

	profile     *profiling.Session
	profileOpts profiling.Options
)

// NewRootCmd creates the root command for the qamatch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qamatch",
		Short: "Hybrid answer retrieval for a Q&A knowledge base",
		Long: `qamatch finds the stored answer that best matches a user question.

It fuses embedding similarity with character-trigram similarity over a
multilingual (Kazakh, Russian, English) index of question phrases, and
grows that index by paraphrasing short phrases with a chat model.

Run 'qamatch serve' for the HTTP RPC endpoints or 'qamatch mcp' for the
MCP stdio server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("qamatch version {{.Version}}\n")

	cmd.PersistentFlags().String("dir", ".", "Project directory holding .qamatch.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.qamatch/logs/")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "trace", "", "Write an execution trace to this file")
	_ = cmd.PersistentFlags().MarkHidden("trace")

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if err := startLogging(c, args); err != nil {
			return err
		}
		return startProfiling()
	}
	cmd.PersistentPostRunE = func(c *cobra.Command, args []string) error {
		perr := stopProfiling()
		return errors.Join(perr, stopLogging(c, args))
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newBacklogCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug logging if requested. Without --debug the
// logger is installed once the configuration is loaded.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	cfg := logging.DebugConfig(config.DataDir())
	if err := installLogger(cfg); err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggerFixed = true
	slog.Info("Debug logging enabled",
		slog.String("log_file", cfg.Path()),
		slog.String("version", version.Version))
	return nil
}

// stopLogging flushes and closes the log file.
func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Debug("Logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	loggerFixed = false
	return nil
}

func startProfiling() error {
	if !profileOpts.Enabled() {
		return nil
	}
	s, err := profiling.Start(profileOpts)
	if err != nil {
		return err
	}
	profile = s
	return nil
}

// stopProfiling flushes the profiles of this run, if any.
func stopProfiling() error {
	if profile == nil {
		return nil
	}
	err := profile.Stop()
	profile = nil
	slog.Debug("profiling stopped", slog.String("heap_in_use", profiling.FormatBytes(profiling.HeapInUse())))
	return err
}

// configureLogging installs file logging at level unless --debug already
// did. Nothing is written to stderr so command output stays clean.
func configureLogging(level string) {
	if loggerFixed {
		return
	}
	cfg := logging.DefaultConfig(level)
	cfg.Dir = logging.LogDir(config.DataDir())
	cfg.Stderr = false
	if err := installLogger(cfg); err != nil {
		slog.Debug("file logging unavailable", slog.String("error", err.Error()))
	}
}

func installLogger(cfg logging.Config) error {
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	if loggingCleanup != nil {
		loggingCleanup()
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command and prints failures for humans.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		// Post-run hooks are skipped on failure.
		_ = stopProfiling()
		fmt.Fprint(os.Stderr, qaerrors.FormatForCLI(err))
	}
	return err
}
