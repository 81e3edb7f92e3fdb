package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/server"
	"github.com/splitpulse/splitpulse/internal/sink"
	"github.com/splitpulse/splitpulse/internal/store"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the splitpulse HTTP server.

The server provides:
  - Assignment and conversion endpoints for browsers
  - Web vitals ingestion and read endpoints
  - Token-protected admin API for managing experiments

Example:
  splitpulse serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DB)
	if err != nil {
		return eris.Wrap(err, "cli: open database")
	}
	defer s.Close()

	forwarder := sink.New(cfg.Sink.URL, time.Duration(cfg.Sink.TimeoutSecs)*time.Second)
	var engineSink experiment.Sink
	if forwarder.Enabled() {
		engineSink = forwarder
	}
	engine := experiment.NewEngine(s, engineSink)

	agg := vitals.NewAggregator(s)
	if err := agg.Restore(ctx); err != nil {
		return eris.Wrap(err, "cli: restore vitals")
	}
	agg.Subscribe(func(a vitals.Alert) {
		zap.L().Warn("vitals alert",
			zap.String("metric", a.Metric.String()),
			zap.String("severity", string(a.Severity)),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
		)
	})

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	srv := server.New(server.Config{
		Port:           port,
		AdminToken:     cfg.Server.AdminToken,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, s, engine, agg)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		return digestLoop(ctx, agg, time.Duration(cfg.Vitals.DigestIntervalSecs)*time.Second)
	})

	return g.Wait()
}

// digestLoop periodically logs the overall vitals score so operators can
// watch site health from the server logs alone.
func digestLoop(ctx context.Context, agg *vitals.Aggregator, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			latest := agg.LatestAll()
			if len(latest) == 0 {
				continue
			}
			zap.L().Info("vitals digest",
				zap.Float64("score", agg.OverallScore()),
				zap.Int("metrics", len(latest)),
				zap.Int("alerts", len(agg.Alerts())),
			)
		}
	}
}
