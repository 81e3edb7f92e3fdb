package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/stats"
	"github.com/splitpulse/splitpulse/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show detailed results for an experiment",
	Long:  `Show detailed results including conversion rates and confidence intervals.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		rec, err := s.GetExperiment(ctx, id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return eris.Errorf("experiment '%s' not found", id)
			}
			return eris.Wrap(err, "cli: get experiment")
		}

		vs, err := s.VariantStats(ctx, id)
		if err != nil {
			return eris.Wrap(err, "cli: variant stats")
		}

		result := stats.Analyze(&rec.Experiment, vs)

		fmt.Printf("EXPERIMENT: %s\n", rec.ID)
		fmt.Printf("STATE: %s\n", rec.State)
		if len(rec.Goals) > 0 {
			fmt.Printf("GOALS: %s\n", strings.Join(rec.Goals, ", "))
		}
		fmt.Printf("TRAFFIC: %d%%\n", rec.TrafficAllocation)
		fmt.Printf("CREATED: %s\n", rec.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		fmt.Println("VARIANT           EXPOSURES  CONVERSIONS  RATE     95% CI")
		fmt.Println(strings.Repeat("─", 64))

		for _, v := range result.Variants {
			indicator := ""
			if v.ID == result.LeadingID && len(result.Variants) > 1 {
				indicator = " ← LEADING"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Exposures == 0 {
				ciStr = "N/A"
			}

			name := v.ID
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			fmt.Printf("%-16s  %-9d  %-11d  %-7s  %s%s\n",
				name,
				v.Exposures,
				v.Conversions,
				formatPercent(v.Rate),
				ciStr,
				indicator,
			)
		}

		fmt.Println()

		if len(result.Variants) > 1 {
			confPct := result.ConfidenceLevel * 100
			if result.Confident {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, result.LeadingID)
			} else if confPct >= 90 {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" beats control (not yet significant)\n", confPct, result.LeadingID)
			} else {
				fmt.Println("Statistical significance: Not enough data to determine a winner")
			}
		}

		return nil
	})
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
