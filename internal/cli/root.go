package cli

import (
	"github.com/spf13/cobra"

	"github.com/splitpulse/splitpulse/internal/config"
)

var (
	cfg    *config.Config
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "splitpulse",
	Short: "splitpulse - self-hosted experiment assignment and web vitals telemetry",
	Long: `splitpulse serves deterministic A/B experiment assignments and collects
Core Web Vitals telemetry from browsers. Single Go binary, embedded SQLite.

Running without a subcommand starts the server (same as 'splitpulse serve').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DB = dbPath
		}
		return config.InitLogger(cfg.Log)
	},
	RunE: runServe, // Default action is to start the server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
}
