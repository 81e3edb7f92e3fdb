package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/stats"
	"github.com/splitpulse/splitpulse/internal/store"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

const defaultTrendWindow = 15 * time.Minute

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type healthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	exps, err := s.store.ListExperiments(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ExperimentsCount: len(exps),
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

type assignRequest struct {
	ExperimentID string `json:"experiment_id"`
	UserID       string `json:"user_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ExperimentID == "" {
		httpError(w, http.StatusBadRequest, "experiment_id is required")
		return
	}
	// A browser without a stored identity gets one minted here and keeps
	// it client-side; assignment stability depends on resending it.
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	rec, err := s.store.GetExperiment(r.Context(), req.ExperimentID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "experiment not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	d := s.engine.Evaluate(r.Context(), rec.Experiment, req.UserID)
	writeJSON(w, http.StatusOK, d)
}

type convertRequest struct {
	ExperimentID string         `json:"experiment_id"`
	UserID       string         `json:"user_id"`
	Event        string         `json:"event"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type convertResponse struct {
	Tracked bool `json:"tracked"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ExperimentID == "" || req.UserID == "" || req.Event == "" {
		httpError(w, http.StatusBadRequest, "experiment_id, user_id and event are required")
		return
	}

	rec, err := s.store.GetExperiment(r.Context(), req.ExperimentID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "experiment not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !rec.HasGoal(req.Event) {
		writeJSON(w, http.StatusOK, convertResponse{Tracked: false})
		return
	}

	tracked, err := s.engine.RecordConversion(r.Context(), req.ExperimentID, req.UserID, req.Event, req.Metadata)
	if err != nil {
		zap.L().Error("server: record conversion", zap.String("experiment", req.ExperimentID), zap.Error(err))
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{Tracked: tracked})
}

type vitalsIngestRequest struct {
	Metric  string               `json:"metric"`
	Value   float64              `json:"value"`
	Context vitals.SampleContext `json:"context"`
}

func (s *Server) handleVitalsIngest(w http.ResponseWriter, r *http.Request) {
	var req vitalsIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	m, err := vitals.Parse(req.Metric)
	if err != nil {
		httpError(w, http.StatusBadRequest, "unknown metric")
		return
	}
	sample := s.agg.Ingest(r.Context(), m, req.Value, req.Context)
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleVitalsLatest(w http.ResponseWriter, r *http.Request) {
	latest := s.agg.LatestAll()
	out := make(map[string]vitals.Sample, len(latest))
	for m, sample := range latest {
		out[m.String()] = sample
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVitalsScore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"score": s.agg.OverallScore()})
}

func (s *Server) handleVitalsAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.agg.Alerts()
	if alerts == nil {
		alerts = []vitals.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleVitalsMetric(w http.ResponseWriter, r *http.Request) {
	m, err := vitals.Parse(chi.URLParam(r, "metric"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "unknown metric")
		return
	}
	latest, ok := s.agg.Latest(m)
	if !ok {
		httpError(w, http.StatusNotFound, "no samples recorded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":  m,
		"latest":  latest,
		"history": s.agg.History(m),
	})
}

func (s *Server) handleVitalsTrend(w http.ResponseWriter, r *http.Request) {
	m, err := vitals.Parse(chi.URLParam(r, "metric"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "unknown metric")
		return
	}

	window := defaultTrendWindow
	if raw := r.URL.Query().Get("window_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			httpError(w, http.StatusBadRequest, "invalid window_ms")
			return
		}
		window = time.Duration(ms) * time.Millisecond
	}

	trend, err := s.agg.Trend(m, window)
	if err != nil {
		if eris.Is(err, vitals.ErrInsufficientData) {
			writeJSON(w, http.StatusOK, map[string]any{
				"metric":            m,
				"insufficient_data": true,
			})
			return
		}
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var exp experiment.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := exp.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.store.CreateExperiment(r.Context(), exp)
	if err != nil {
		zap.L().Error("server: create experiment", zap.String("experiment", exp.ID), zap.Error(err))
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListExperiments(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []*store.ExperimentRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type resultsResponse struct {
	Experiment *store.ExperimentRecord `json:"experiment"`
	Results    *stats.Result           `json:"results"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "experiment not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	vs, err := s.store.VariantStats(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		Experiment: rec,
		Results:    stats.Analyze(&rec.Experiment, vs),
	})
}

type winnerRequest struct {
	VariantID string `json:"variant_id"`
}

func (s *Server) handleDeclareWinner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req winnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.VariantID == "" {
		httpError(w, http.StatusBadRequest, "variant_id is required")
		return
	}

	rec, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "experiment not found")
			return
		}
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	valid := false
	for _, v := range rec.Variants {
		if v.ID == req.VariantID {
			valid = true
			break
		}
	}
	if !valid {
		httpError(w, http.StatusBadRequest, "unknown variant")
		return
	}

	if err := s.store.CompleteExperiment(r.Context(), id, req.VariantID); err != nil {
		httpError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "winner": req.VariantID})
}
