package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/complyhub/guidance-core/internal/infrastructure/persistence/seed"
)

func seedCmd(load func() (*runtime, error)) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load sections, steps and documents from a YAML catalog",
		Long: `Validate a guidance catalog and upsert it into the store. Seeding is
idempotent: entities are matched by id and overwritten.

Examples:
  complyhub seed catalog.yaml
  complyhub seed catalog.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				steps := 0
				for _, s := range cat.Sections {
					steps += len(s.Steps)
				}
				fmt.Fprintf(out, "catalog is valid: %d section(s), %d step(s), %d document(s)\n",
					len(cat.Sections), steps, len(cat.Documents))
				return nil
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

			sum, err := seed.Apply(ctx, st, cat, rt.log)
			if err != nil {
				return fmt.Errorf("seed failed after %d section(s), %d step(s): %w", sum.Sections, sum.Steps, err)
			}
			fmt.Fprintf(out, "seeded %d section(s), %d step(s), %d document(s)\n", sum.Sections, sum.Steps, sum.Documents)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without touching the store")
	return cmd
}
