package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/complyhub/guidance-core/pkg/logger"
)

func migrateCmd(load func() (*runtime, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Apply, roll back or list schema migrations",
		Long: `Manage the schema of the configured store (DB_DRIVER).

  up      apply every pending migration (default)
  down    revert the most recent migration
  status  list migrations and when they were applied`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			rt, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx, rt)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.close()

			return runMigrate(ctx, cmd, rt.log, st.migrator, action)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, log *logger.Logger, m migrator, action string) error {
	out := cmd.OutOrStdout()

	switch action {
	case "up":
		applied, err := m.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations applied", logger.Count("applied", applied))
		fmt.Fprintf(out, "applied %d migration(s)\n", applied)

	case "down":
		version, err := m.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if version == 0 {
			fmt.Fprintln(out, "nothing to roll back")
			return nil
		}
		log.Info("migration rolled back", logger.Int("version", version))
		fmt.Fprintf(out, "rolled back migration %d\n", version)

	case "status":
		rows, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
		for _, r := range rows {
			at := "pending"
			if r.Applied && r.AppliedAt != nil {
				at = r.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Version, r.Name, at)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or status)", action)
	}
	return nil
}
