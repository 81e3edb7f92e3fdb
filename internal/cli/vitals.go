package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/store"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

var vitalsCmd = &cobra.Command{
	Use:   "vitals",
	Short: "Show a digest of collected web vitals",
	Long:  `Show the latest sample, rating, and history depth per metric, plus recent alerts.`,
	RunE:  runVitals,
}

func init() {
	rootCmd.AddCommand(vitalsCmd)
}

func runVitals(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		agg := vitals.NewAggregator(s)
		if err := agg.Restore(ctx); err != nil {
			return eris.Wrap(err, "cli: restore vitals")
		}

		latest := agg.LatestAll()
		if len(latest) == 0 {
			fmt.Println("No vitals collected yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METRIC\tLATEST\tRATING\tSAMPLES\tOBSERVED")

		for _, m := range vitals.Names() {
			sample, ok := latest[m]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%g\t%s\t%d\t%s\n",
				m,
				sample.Value,
				strings.ToUpper(string(sample.Rating)),
				len(agg.History(m)),
				sample.ObservedAt.Format("2006-01-02 15:04:05"),
			)
		}
		w.Flush()

		fmt.Printf("\nOverall score: %.1f\n", agg.OverallScore())

		alerts := agg.Alerts()
		if len(alerts) > 0 {
			fmt.Printf("\nAlerts (%d):\n", len(alerts))
			for _, a := range alerts {
				fmt.Printf("  [%s] %s\n", strings.ToUpper(string(a.Severity)), a.Message)
			}
		}

		return nil
	})
}
