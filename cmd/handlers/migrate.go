package handlers

import (
	"context"
	"fmt"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"
	"blogpilot/internal/store"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage the article store schema.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status

Applied migrations are tracked in the schema_migrations table. The schema
needs the pgvector extension.

Examples:
  blogpilot migrate up
  blogpilot migrate status`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context(), cmd)
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context(), cmd)
		},
	}
}

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.StoreEnabled() {
		return nil, core.E(core.KindConfig, "migrate", "database.connection_string is not set (DATABASE_URL)", nil)
	}
	return store.Open(ctx, cfg.Database.ConnectionString, store.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
}

func runMigrateUp(ctx context.Context, cmd *cobra.Command) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	logger.Info("Applying database migrations")
	n, err := store.NewMigrator(st).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if n == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Database schema is up to date")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Applied %d migration(s)\n", n)
	return nil
}

func runMigrateStatus(ctx context.Context, cmd *cobra.Command) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	statuses, err := store.NewMigrator(st).Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("Migration Status"))
	pending := 0
	for _, s := range statuses {
		mark := outcomeStyles["published"].Render("applied")
		if !s.Applied {
			mark = outcomeStyles["draft"].Render("pending")
			pending++
		}
		fmt.Fprintf(out, "  %03d  %-7s  %s\n", s.Version, mark, s.Description)
	}
	fmt.Fprintf(out, "\n%d migration(s), %d pending\n", len(statuses), pending)
	return nil
}
