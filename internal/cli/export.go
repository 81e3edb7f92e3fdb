package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export raw conversion data",
	Long: `Export raw conversion events in CSV or JSON format.

Examples:
  splitpulse export hero-test --format csv > hero-data.csv
  splitpulse export hero-test --format json > hero-data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	id := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return eris.New("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		if _, err := s.GetExperiment(ctx, id); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return eris.Errorf("experiment '%s' not found", id)
			}
			return eris.Wrap(err, "cli: get experiment")
		}

		events, err := s.ListConversions(ctx, id)
		if err != nil {
			return eris.Wrap(err, "cli: list conversions")
		}

		if exportFormat == "csv" {
			return exportCSV(events)
		}
		return exportJSON(events)
	})
}

func exportCSV(events []*experiment.ConversionEvent) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "variant_id", "event", "user_id"}); err != nil {
		return eris.Wrap(err, "cli: write csv header")
	}

	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.VariantID,
			e.Event,
			e.UserID,
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "cli: write csv row")
		}
	}

	return nil
}

func exportJSON(events []*experiment.ConversionEvent) error {
	type exportEvent struct {
		Timestamp int64          `json:"timestamp"`
		VariantID string         `json:"variant_id"`
		Event     string         `json:"event"`
		UserID    string         `json:"user_id"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	out := make([]exportEvent, 0, len(events))
	for _, e := range events {
		out = append(out, exportEvent{
			Timestamp: e.CreatedAt.Unix(),
			VariantID: e.VariantID,
			Event:     e.Event,
			UserID:    e.UserID,
			Metadata:  e.Metadata,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return eris.Wrap(err, "cli: encode json")
	}

	fmt.Fprintf(os.Stderr, "Exported %d events\n", len(out))
	return nil
}
