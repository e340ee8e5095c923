package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/complyhub/guidance-core/internal/application/query"
	"github.com/complyhub/guidance-core/internal/domain/recommendation"
)

func recommendCmd(load func() (*runtime, error)) *cobra.Command {
	var (
		userID     string
		category   string
		companyAge int
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Print a user's recommendations",
		Long: `Compute recommendations for one user against the configured store.
Without --limit the four buckets are printed; with --limit the ranked list.

Examples:
  complyhub recommend --user 5f1c... --category tax --company-age 40
  complyhub recommend --user 5f1c... --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				q := query.GetRecommendationsQuery{
					UserID:          userID,
					CurrentCategory: category,
					CompanyAgeDays:  companyAge,
				}
				out := cmd.OutOrStdout()

				if cmd.Flags().Changed("limit") {
					res, err := a.topRecommendations.Handle(ctx, query.GetTopRecommendationsQuery{GetRecommendationsQuery: q, Limit: limit})
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(out, res)
					}
					return printRecommendations(out, "top", res.Items, res.Degraded)
				}

				res, err := a.recommendations.Handle(ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, res)
				}
				for _, b := range []struct {
					name  string
					items []recommendation.Recommendation
				}{
					{"urgent", res.Urgent},
					{"quick wins", res.QuickWins},
					{"next logical", res.NextLogical},
					{"same category", res.SameCategory},
				} {
					if err := printRecommendations(out, b.name, b.items, res.Degraded); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&category, "category", "", "category of the section being viewed")
	cmd.Flags().IntVar(&companyAge, "company-age", 0, "days since incorporation")
	cmd.Flags().IntVar(&limit, "limit", 0, "print the ranked list with at most this many items")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func progressCmd(load func() (*runtime, error)) *cobra.Command {
	var (
		userID string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print a user's progress report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				res, err := a.progress.Handle(ctx, query.GetProgressQuery{UserID: userID})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, res)
				}

				fmt.Fprintf(out, "overall: %d%% (%d/%d steps)\n", res.OverallPercentage, res.Steps.Completed, res.Steps.Total)
				if res.Degraded {
					fmt.Fprintln(out, "warning: store unavailable, report is empty")
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SECTION\tCATEGORY\tDONE\tPROGRESS")
				for _, s := range res.Steps.Sections {
					fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d%%\n", s.SectionID, s.Category, s.Completed, s.Total, s.Percentage)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if docs := res.Documents; docs != nil {
					fmt.Fprintf(out, "documents: %d%% (%d/%d)\n", docs.Overall, docs.Completed, docs.Total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// withApp builds the application for a single command and tears it down.
func withApp(ctx context.Context, load func() (*runtime, error), fn func(context.Context, *app) error) error {
	rt, err := load()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, rt)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(closeCtx)
	}()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecommendations(w io.Writer, title string, items []recommendation.Recommendation, degraded bool) error {
	fmt.Fprintf(w, "== %s (%d)\n", title, len(items))
	if degraded {
		fmt.Fprintln(w, "   store unavailable")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range items {
		deadline := "-"
		if r.DeadlineDays != nil {
			deadline = fmt.Sprintf("%dd", *r.DeadlineDays)
		}
		fmt.Fprintf(tw, "   %s\t%s\t%s\turgency=%d\tdeadline=%s\n", r.ID, r.Title, r.Category, r.UrgencyScore, deadline)
	}
	return tw.Flush()
}
