package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/output"
	"github.com/Aman-CERP/qamatch/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Create or upgrade the database schema of the configured store.

The sqlite backend creates its schema when opened; for postgres this
applies the tables, trigram and vector indexes, and match functions.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := output.New(cmd.OutOrStdout())
	m, ok := st.(store.Migrator)
	if !ok {
		out.Successf("%s schema is up to date", cfg.Store.Backend)
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	out.Successf("Migrated %s", store.Location(storeConfig(cfg)))
	return nil
}
