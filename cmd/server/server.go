package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/accafreeze-engine/internal/circuitbreaker"
	"github.com/yourorg/accafreeze-engine/internal/config"
	"github.com/yourorg/accafreeze-engine/internal/export"
	"github.com/yourorg/accafreeze-engine/internal/ledger"
	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/model"
	"github.com/yourorg/accafreeze-engine/internal/pipeline"
	"github.com/yourorg/accafreeze-engine/internal/security"
)

const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Dependencies are the components the server exposes
type Dependencies struct {
	Engine   *pipeline.Engine
	Ledger   *ledger.Ledger
	Breakers map[string]*circuitbreaker.CircuitBreaker
	Exporter *export.Exporter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server serves the daily report read-only plus a few operator endpoints
type Server struct {
	config  config.Config
	deps    Dependencies
	limiter *rate.Limiter
	server  *http.Server

	// runCtx is the parent of runs triggered over HTTP
	runCtx context.Context
}

// NewServer creates a server instance
func NewServer(cfg config.Config, deps Dependencies) *Server {
	limit := rate.Inf
	if cfg.APIRateLimit > 0 {
		limit = rate.Limit(cfg.APIRateLimit)
	}
	burst := cfg.APIBurst
	if burst <= 0 {
		burst = 1
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.AdminToken == "" {
		logrus.Warn("ADMIN_TOKEN not set, operator endpoints are unauthenticated")
	}

	return &Server{
		config:  cfg,
		deps:    deps,
		limiter: rate.NewLimiter(limit, burst),
		runCtx:  context.Background(),
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/circuit", s.handleCircuitStatus)
	r.With(s.requireAdmin).Post("/circuit", s.handleCircuitStatus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/report", s.handleReport)
		r.Get("/markets", s.handleMarkets)
		r.Get("/accas", s.handleAccas)
		r.Get("/predictions", s.handlePredictions)
		r.Get("/predictions/{fixtureID}", s.handlePrediction)
		r.Get("/predictions/{fixtureID}/verify", s.handleVerify)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/predictions/{fixtureID}/settle", s.handleSettle)
			r.Post("/run", s.handleRun)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logrus.Info("Server stopped")
	return nil
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(startTime).String(),
		"version": version,
		"running": s.deps.Engine.Running(),
		"configuration": map[string]interface{}{
			"workers":            s.config.Workers,
			"run_at":             s.config.RunAt,
			"checksum_algorithm": s.config.ChecksumAlgorithm,
			"persistent_ledger":  s.config.DatabaseURL != "",
			"redis_cache":        s.config.RedisURL != "",
		},
	}

	if report, ok := s.deps.Engine.Latest(); ok {
		status["last_run"] = map[string]interface{}{
			"date":         report.Date,
			"generated_at": report.GeneratedAt.Format(time.RFC3339),
			"fixtures":     report.Fixtures,
			"published":    len(report.Published),
			"accas":        len(report.Accas),
			"failures":     len(report.Failures),
		}
	}
	if s.deps.Exporter != nil {
		status["export"] = s.deps.Exporter.Status()
	}

	breakers := make(map[string]string, len(s.deps.Breakers))
	for name, cb := range s.deps.Breakers {
		breakers[name] = cb.GetState().String()
	}
	status["circuit_breakers"] = breakers

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus allows viewing and resetting the provider breakers.
// POST ?action=reset resets the breaker named by ?name, or all of them.
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if len(s.deps.Breakers) == 0 {
		errorResponse(w, http.StatusServiceUnavailable, "circuit breakers not configured")
		return
	}

	response := map[string]interface{}{}

	if r.Method == http.MethodPost {
		if r.URL.Query().Get("action") != "reset" {
			errorResponse(w, http.StatusBadRequest, "unsupported action")
			return
		}
		name := r.URL.Query().Get("name")
		if name != "" {
			cb, ok := s.deps.Breakers[name]
			if !ok {
				errorResponse(w, http.StatusNotFound, "unknown circuit breaker "+name)
				return
			}
			cb.Reset()
		} else {
			for _, cb := range s.deps.Breakers {
				cb.Reset()
			}
		}
		response["message"] = "Circuit breaker reset"
	}

	names := make([]string, 0, len(s.deps.Breakers))
	for name := range s.deps.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)

	breakers := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		cb := s.deps.Breakers[name]
		entry := map[string]interface{}{
			"name":  name,
			"state": cb.GetState().String(),
		}
		if at, reason := cb.LastTrip(); !at.IsZero() {
			entry["last_trip"] = at.UTC().Format(time.RFC3339)
			entry["reason"] = reason
		}
		breakers = append(breakers, entry)
	}
	response["breakers"] = breakers

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) latest(w http.ResponseWriter) (*pipeline.Report, bool) {
	report, ok := s.deps.Engine.Latest()
	if !ok {
		errorResponse(w, http.StatusNotFound, "no report available yet")
	}
	return report, ok
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if report, ok := s.latest(w); ok {
		writeJSON(w, http.StatusOK, report)
	}
}

// handleMarkets lists the evaluated markets, optionally filtered by
// ?fixture= and ?priced=true
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}

	fixture := r.URL.Query().Get("fixture")
	pricedOnly := r.URL.Query().Get("priced") == "true"

	out := make([]model.EvaluatedMarket, 0, len(report.Markets))
	for _, m := range report.Markets {
		if fixture != "" && m.FixtureID != fixture {
			continue
		}
		if pricedOnly && !m.Priced {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    report.Date,
		"count":   len(out),
		"markets": out,
	})
}

func (s *Server) handleAccas(w http.ResponseWriter, r *http.Request) {
	report, ok := s.latest(w)
	if !ok {
		return
	}
	accas := report.Accas
	if accas == nil {
		accas = []model.AccaFreeze{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  report.Date,
		"count": len(accas),
		"accas": accas,
	})
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Ledger.List(r.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to list predictions")
		errorResponse(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}
	if all == nil {
		all = []model.PublishedPrediction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(all),
		"predictions": all,
	})
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Ledger.Get(r.Context(), chi.URLParam(r, "fixtureID"))
	if err != nil {
		ledgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleVerify recomputes the stored checksum. A mismatch answers 409.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	fixtureID := chi.URLParam(r, "fixtureID")
	err := s.deps.Ledger.Verify(r.Context(), fixtureID)

	var ie *security.IntegrityError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"fixture_id": fixtureID,
			"valid":      true,
		})
	case errors.As(err, &ie):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"fixture_id": fixtureID,
			"valid":      false,
			"stored":     ie.Stored,
			"computed":   ie.Computed,
		})
	default:
		ledgerError(w, err)
	}
}

// SettleRequest is the body of the settle endpoint. Stake defaults to the
// configured stake.
type SettleRequest struct {
	HomeGoals *int     `json:"home_goals"`
	AwayGoals *int     `json:"away_goals"`
	Stake     *float64 `json:"stake,omitempty"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HomeGoals == nil || req.AwayGoals == nil || *req.HomeGoals < 0 || *req.AwayGoals < 0 {
		errorResponse(w, http.StatusBadRequest, "home_goals and away_goals are required and must not be negative")
		return
	}
	stake := s.config.Stake
	if req.Stake != nil {
		stake = *req.Stake
	}

	p, err := s.deps.Ledger.Settle(r.Context(), chi.URLParam(r, "fixtureID"), *req.HomeGoals, *req.AwayGoals, stake)
	if err != nil {
		ledgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleRun starts a pipeline run for ?date= (default today, UTC). With
// ?wait=true the report is returned once the run finishes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse(pipeline.DateLayout, v)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
			return
		}
		date = d
	}

	if r.URL.Query().Get("wait") == "true" {
		report, err := s.deps.Engine.Run(r.Context(), date)
		if err != nil {
			runError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if s.deps.Engine.Running() {
		runError(w, pipeline.ErrRunning)
		return
	}
	go func() {
		if _, err := s.deps.Engine.Run(s.runCtx, date); err != nil {
			logrus.WithError(err).Error("Triggered pipeline run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"date":   date.Format(pipeline.DateLayout),
	})
}
