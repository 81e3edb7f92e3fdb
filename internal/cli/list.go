package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments with their state and aggregate exposure counts.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		recs, err := s.ListExperiments(ctx)
		if err != nil {
			return eris.Wrap(err, "cli: list experiments")
		}

		if len(recs) == 0 {
			fmt.Println("No experiments yet.")
			fmt.Println()
			fmt.Println(`Create one with: splitpulse create hero-test --variants "control:50,treatment:50"`)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tVARIANTS\tTRAFFIC\tEXPOSURES\tCONVERSIONS\tCREATED")

		for _, rec := range recs {
			vs, err := s.VariantStats(ctx, rec.ID)
			if err != nil {
				return eris.Wrapf(err, "cli: stats for %s", rec.ID)
			}

			exposures := 0
			conversions := 0
			for _, stat := range vs {
				exposures += stat.Exposures
				conversions += stat.Conversions
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t%d\t%d\t%s\n",
				rec.ID,
				strings.ToUpper(string(rec.State)),
				len(rec.Variants),
				rec.TrafficAllocation,
				exposures,
				conversions,
				rec.CreatedAt.Format("2006-01-02"),
			)
		}

		w.Flush()
		return nil
	})
}
