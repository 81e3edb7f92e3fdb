package cli

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variantID string

	cmd := &cobra.Command{
		Use:   "winner <id>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant for an experiment and complete it.

A completed experiment stops admitting new assignments; existing sticky
assignments remain readable for attribution.

Example:
  splitpulse winner hero-test --variant variant-a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

				if rec.State != store.StateRunning {
					return eris.Errorf("experiment is not running (current state: %s)", rec.State)
				}

				found := false
				for _, v := range rec.Variants {
					if v.ID == variantID {
						found = true
						break
					}
				}
				if !found {
					return eris.Errorf("experiment '%s' has no variant %q", id, variantID)
				}

				if err := s.CompleteExperiment(ctx, id, variantID); err != nil {
					return eris.Wrap(err, "cli: complete experiment")
				}

				fmt.Printf("Declared winner for experiment '%s': %s\n", id, variantID)
				fmt.Println("Experiment has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
