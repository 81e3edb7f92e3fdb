package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants string
		goals    string
		traffic  int
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with weighted variants.

Variants are "id:weight" pairs; weights must sum to 100. When --variants
is omitted you are prompted for them interactively.

Examples:
  splitpulse create hero-test --variants "control:50,variant-a:25,variant-b:25"
  splitpulse create cta --variants "control:50,treatment:50" --goals "cta-click,signup"
  splitpulse create banner --variants "control:50,treatment:50" --traffic 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			if variants == "" {
				var err error
				variants, err = promptVariants()
				if err != nil {
					return err
				}
			}

			parsed, err := parseVariants(variants)
			if err != nil {
				return err
			}

			exp := experiment.Experiment{
				ID:                id,
				Variants:          parsed,
				TrafficAllocation: traffic,
				Active:            true,
			}
			if goals != "" {
				for _, g := range strings.Split(goals, ",") {
					if g = strings.TrimSpace(g); g != "" {
						exp.Goals = append(exp.Goals, g)
					}
				}
			}
			if err := exp.Validate(); err != nil {
				return err
			}

			return withStore(func(s *store.SQLiteStore) error {
				rec, err := s.CreateExperiment(context.Background(), exp)
				if err != nil {
					return eris.Wrap(err, "cli: create experiment")
				}

				fmt.Printf("Created experiment '%s' with %d variants:\n", rec.ID, len(rec.Variants))
				for _, v := range rec.Variants {
					fmt.Printf("  %s: %d%%\n", v.ID, v.Weight)
				}
				fmt.Printf("  Traffic allocation: %d%%\n", rec.TrafficAllocation)
				if len(rec.Goals) > 0 {
					fmt.Printf("  Goals: %s\n", strings.Join(rec.Goals, ", "))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", `comma-separated "id:weight" pairs`)
	cmd.Flags().StringVarP(&goals, "goals", "g", "", "comma-separated conversion goal names (empty recognizes all)")
	cmd.Flags().IntVarP(&traffic, "traffic", "t", 100, "percentage of users entering the experiment")

	return cmd
}

// parseVariants turns "control:50,treatment:50" into variant structs.
func parseVariants(raw string) ([]experiment.Variant, error) {
	var out []experiment.Variant
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, weightStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, eris.Errorf("cli: variant %q is not id:weight", part)
		}
		weight, err := strconv.Atoi(strings.TrimSpace(weightStr))
		if err != nil {
			return nil, eris.Errorf("cli: variant %q has a non-numeric weight", part)
		}
		out = append(out, experiment.Variant{ID: strings.TrimSpace(id), Weight: weight})
	}
	if len(out) < 2 {
		return nil, eris.New(`cli: need at least 2 variants, e.g. --variants "control:50,treatment:50"`)
	}
	return out, nil
}

func promptVariants() (string, error) {
	prompt := promptui.Prompt{
		Label: `Variants as "id:weight" pairs (weights sum to 100)`,
		Validate: func(input string) error {
			_, err := parseVariants(input)
			return err
		},
	}

	result, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return "", eris.New("cli: canceled")
		}
		return "", err
	}
	return result, nil
}
