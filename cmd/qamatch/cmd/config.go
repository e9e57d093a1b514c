package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/config"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the qamatch configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/qamatch/config.yaml)
  3. Project config (.qamatch.yaml, .qamatch.yml or .qamatch.toml)
  4. Environment variables (QAMATCH_*, OPENAI_API_KEY, DATABASE_URL)`,
		Example: `  # Create user config with the defaults
  qamatch config init

  # Create a TOML project config in the current directory
  qamatch config init --project --format toml

  # Show effective configuration
  qamatch config show

  # Roll back the user config to its latest backup
  qamatch config restore`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write a configuration file holding the default settings.

By default the user config is written. With --project the file is written
to the --dir directory as .qamatch.yaml, or .qamatch.toml with
--format toml. An existing file is kept unless --force is given, in which
case it is backed up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, project, force, format)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&project, "project", false, "Write the project config instead of the user config")
	cmd.Flags().StringVar(&format, "format", "yaml", "File format: yaml, toml")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		format string
		source string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, or only the
defaults with --source defaults. The API key is never shown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, format, source)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, toml, json")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print configuration file paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			dir, _ := cmd.Flags().GetString("dir")
			if p := config.ProjectConfigPath(dir); p != "" {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	var project bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore a configuration backup",
		Long: `Restore a configuration file from a backup made by 'config init --force'.
Without an argument the newest backup is used. The current file is backed
up before it is replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigRestore(cmd, project, args)
		},
	}

	cmd.Flags().BoolVar(&project, "project", false, "Restore the project config instead of the user config")

	return cmd
}

func runConfigInit(cmd *cobra.Command, project, force bool, format string) error {
	format = strings.ToLower(format)
	if format != "yaml" && format != "toml" {
		return qaerrors.ValidationError(fmt.Sprintf("--format must be 'yaml' or 'toml', got %q", format), nil)
	}

	path := config.GetUserConfigPath()
	if project {
		dir, _ := cmd.Flags().GetString("dir")
		path = filepath.Join(dir, ".qamatch."+format)
	} else if format == "toml" {
		return qaerrors.ValidationError("the user config is YAML; use --project for a TOML file", nil)
	}

	out := output.New(cmd.OutOrStdout())
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Status("💡", "Use --force to overwrite it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupFile(path)
		if err != nil {
			return err
		}
		out.Statusf("💾", "Backup: %s", backup)
	}

	if err := config.NewConfig().WriteFile(path); err != nil {
		return err
	}
	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, format, source string) error {
	var cfg *config.Config
	switch source {
	case "merged":
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = c
	case "defaults":
		cfg = config.NewConfig()
	default:
		return qaerrors.ValidationError(fmt.Sprintf("--source must be 'merged' or 'defaults', got %q", source), nil)
	}

	switch strings.ToLower(format) {
	case "json":
		return output.New(cmd.OutOrStdout()).JSON(cfg)
	case "yaml", "toml":
		data, err := cfg.Marshal(format)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	default:
		return qaerrors.ValidationError(fmt.Sprintf("--format must be 'yaml', 'toml' or 'json', got %q", format), nil)
	}
}

func runConfigRestore(cmd *cobra.Command, project bool, args []string) error {
	path := config.GetUserConfigPath()
	if project {
		dir, _ := cmd.Flags().GetString("dir")
		path = config.ProjectConfigPath(dir)
		if path == "" {
			path = filepath.Join(dir, ".qamatch.yaml")
		}
	}

	var backup string
	if len(args) == 1 {
		backup = args[0]
	} else {
		backups, err := config.ListBackups(path)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			return qaerrors.New(qaerrors.ErrCodeConfigNotFound, "no backups found", nil).
				WithDetail("path", path)
		}
		backup = backups[0]
	}

	if err := config.RestoreBackup(path, backup); err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())
	out.Successf("Restored %s", path)
	out.Statusf("💾", "From: %s", backup)
	return nil
}
