// Package server exposes the assignment engine and telemetry aggregator
// over HTTP. Public endpoints serve browsers directly and are CORS-open;
// admin endpoints require a bearer token.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/store"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

// Config holds the server's runtime settings.
type Config struct {
	Port           int
	AdminToken     string
	RateLimitRPS   int
	RateLimitBurst int
}

// Server wires the HTTP routes to the engine, aggregator, and store.
type Server struct {
	cfg       Config
	store     store.Store
	engine    *experiment.Engine
	agg       *vitals.Aggregator
	router    chi.Router
	startTime time.Time
}

// New creates a server and sets up its routes.
func New(cfg Config, st store.Store, engine *experiment.Engine, agg *vitals.Aggregator) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		engine:    engine,
		agg:       agg,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimitRPS > 0 {
		r.Use(rateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))
	}

	// Public endpoints, hit directly by browsers
	r.Get("/health", s.handleHealth)
	r.Post("/v1/assign", s.handleAssign)
	r.Post("/v1/convert", s.handleConvert)
	r.Post("/v1/vitals", s.handleVitalsIngest)
	r.Get("/v1/vitals/latest", s.handleVitalsLatest)
	r.Get("/v1/vitals/score", s.handleVitalsScore)
	r.Get("/v1/vitals/alerts", s.handleVitalsAlerts)
	r.Get("/v1/vitals/{metric}", s.handleVitalsMetric)
	r.Get("/v1/vitals/{metric}/trend", s.handleVitalsTrend)

	// Admin endpoints
	r.Route("/v1/experiments", func(r chi.Router) {
		r.Use(requireAdmin(s.cfg.AdminToken))
		r.Post("/", s.handleCreateExperiment)
		r.Get("/", s.handleListExperiments)
		r.Get("/{id}/results", s.handleResults)
		r.Post("/{id}/winner", s.handleDeclareWinner)
	})

	s.router = r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
