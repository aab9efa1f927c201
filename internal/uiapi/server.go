package uiapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sched/internal/config"
	"github.com/awaistahir/smart-sched/internal/engine"
	"github.com/awaistahir/smart-sched/internal/prices"
	"github.com/awaistahir/smart-sched/internal/store"
	"github.com/awaistahir/smart-sched/internal/wire"
)

const (
	version        = "1.0.0"
	analyticsRuns  = 7
	defaultRunList = 20
	maxBodyBytes   = 1 << 20
)

// PriceSource provides Octopus prices for a day
type PriceSource = prices.Fetcher

type Server struct {
	store     *store.Store
	optimizer *engine.Optimizer
	cfg       *config.Config
	prices    PriceSource
	metrics   http.Handler
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Server
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithPriceSource(p PriceSource) Option {
	return func(s *Server) { s.prices = p }
}

// WithMetricsHandler exposes h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func NewServer(st *store.Store, opt *engine.Optimizer, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		store:     st,
		optimizer: opt,
		cfg:       cfg,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for local development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/prices", s.handleGetPrices)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handleUpdatePreferences)
		r.Get("/appliances", s.handleGetAppliances)
		r.Post("/appliances", s.handleCreateAppliance)
		r.Get("/appliances/{id}", s.handleGetAppliance)
		r.Put("/appliances/{id}", s.handleUpdateAppliance)
		r.Delete("/appliances/{id}", s.handleDeleteAppliance)
		r.Post("/optimize", s.handleOptimize)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/analytics", s.handleAnalytics)
	})

	return r
}

// requestLogger logs one line per request
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := s.log.Info()
			if status >= http.StatusInternalServerError {
				ev = s.log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("duration", time.Since(began)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version,
		"region":  s.cfg.Region,
		"tariff":  s.cfg.Tariff.Kind,
	})
}

// handleGetPrices serves the day's Octopus prices, cached per region and day
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	day := s.now().UTC()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date format (use YYYY-MM-DD)")
			return
		}
		day = parsed
	}
	region := s.cfg.Region
	if q := r.URL.Query().Get("region"); q != "" {
		region = q
	}

	slots, err := s.dayPrices().HalfHourly(r.Context(), day, region)
	if errors.Is(err, prices.ErrNoSource) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("region", region).Msg("price fetch failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, slots)
}

// dayPrices reads through the store's price cache so each region and day is
// fetched at most once
func (s *Server) dayPrices() prices.Cached {
	return prices.Cached{Cache: s.store, Source: s.prices, Log: s.log}
}

func (s *Server) defaultTariff(ctx context.Context) (engine.Tariff, error) {
	return s.cfg.DefaultTariff(ctx, s.dayPrices(), s.now().UTC())
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.GetPreferences()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.GetPreferences()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	// fields absent from the body keep their stored values
	if err := decodeBody(r, &prefs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validatePreferences(prefs); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.store.SavePreferences(&prefs); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleGetAppliances(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	appliances, err := s.store.ListAppliances(enabledOnly)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, appliances)
}

// applianceBody is the create/update payload; enabled defaults to true
type applianceBody struct {
	Name        string  `json:"name"`
	PowerW      float64 `json:"power_w"`
	DurationMin int     `json:"duration_min"`
	EarliestMin int     `json:"earliest_min"`
	DeadlineMin int     `json:"deadline_min"`
	Priority    string  `json:"priority"`
	Enabled     *bool   `json:"enabled"`
}

func (b applianceBody) apply(a *store.Appliance) {
	a.Name = b.Name
	a.PowerW = b.PowerW
	a.DurationMin = b.DurationMin
	a.EarliestMin = b.EarliestMin
	a.DeadlineMin = b.DeadlineMin
	a.Priority = b.Priority
	a.Enabled = b.Enabled == nil || *b.Enabled
}

func (s *Server) handleCreateAppliance(w http.ResponseWriter, r *http.Request) {
	var body applianceBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateAppliance(body); err != nil {
		s.respondErr(w, err)
		return
	}

	var appliance store.Appliance
	body.apply(&appliance)
	if err := s.store.SaveAppliance(&appliance); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, appliance)
}

func (s *Server) handleGetAppliance(w http.ResponseWriter, r *http.Request) {
	appliance, err := s.store.GetAppliance(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, appliance)
}

func (s *Server) handleUpdateAppliance(w http.ResponseWriter, r *http.Request) {
	appliance, err := s.store.GetAppliance(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var body applianceBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateAppliance(body); err != nil {
		s.respondErr(w, err)
		return
	}

	body.apply(appliance)
	if err := s.store.SaveAppliance(appliance); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, appliance)
}

func (s *Server) handleDeleteAppliance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteAppliance(id); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted", "id": id})
}

type optimizeResponse struct {
	wire.OptimizeResponse
	RunID string `json:"run_id"`
}

// handleOptimize schedules the appliances in the body, or the stored
// enabled appliances under the stored preferences when the body is empty.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading request body")
		return
	}

	var (
		apps   []engine.Appliance
		c      engine.Constraints
		source string
	)
	if len(bytes.TrimSpace(raw)) == 0 {
		source = store.SourceStored
		apps, c, err = s.storedRequest(r)
	} else {
		source = store.SourceRequest
		apps, c, err = s.bodyRequest(r, raw)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	ctx, cancel := s.cfg.SolveContext(r.Context())
	defer cancel()
	sched, err := s.optimizer.Optimize(ctx, apps, c)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	run, err := s.store.SaveRun(sched, source)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, optimizeResponse{OptimizeResponse: wire.FromSchedule(sched), RunID: run.ID})
}

func (s *Server) bodyRequest(r *http.Request, raw []byte) ([]engine.Appliance, engine.Constraints, error) {
	var req wire.OptimizeRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, engine.Constraints{}, &engine.ValidationError{Problems: []string{"malformed JSON: " + err.Error()}}
	}

	var fallback engine.Tariff
	if !req.Constraints.HasTariff() {
		t, err := s.defaultTariff(r.Context())
		if err != nil {
			return nil, engine.Constraints{}, err
		}
		fallback = t
	}
	return req.ToEngine(fallback)
}

func (s *Server) storedRequest(r *http.Request) ([]engine.Appliance, engine.Constraints, error) {
	stored, err := s.store.ListAppliances(true)
	if err != nil {
		return nil, engine.Constraints{}, err
	}
	prefs, err := s.store.GetPreferences()
	if err != nil {
		return nil, engine.Constraints{}, err
	}
	tariff, err := s.defaultTariff(r.Context())
	if err != nil {
		return nil, engine.Constraints{}, err
	}

	apps := make([]engine.Appliance, 0, len(stored))
	for _, a := range stored {
		apps = append(apps, a.Engine())
	}
	return apps, prefs.Constraints(tariff), nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunList
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Dashboard()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Analytics(analyticsRuns)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func validateAppliance(b applianceBody) error {
	var problems []string
	if b.Name == "" {
		problems = append(problems, "name is required")
	}
	if b.PowerW <= 0 {
		problems = append(problems, "power_w must be positive")
	}
	if b.DurationMin <= 0 || b.DurationMin > engine.DefaultHorizonMin {
		problems = append(problems, fmt.Sprintf("duration_min must be between 1 and %d", engine.DefaultHorizonMin))
	}
	if b.EarliestMin < 0 || b.DeadlineMin < 0 || b.DeadlineMin > engine.DefaultHorizonMin {
		problems = append(problems, "earliest_min and deadline_min must lie within a day")
	}
	switch b.Priority {
	case "", "low", "medium", "high":
	default:
		problems = append(problems, fmt.Sprintf("unknown priority %q", b.Priority))
	}
	if len(problems) > 0 {
		return &engine.ValidationError{Problems: problems}
	}
	return nil
}

func validatePreferences(p store.Preferences) error {
	var problems []string
	if p.PowerLimitW <= 0 {
		problems = append(problems, "power_limit_w must be positive")
	}
	if p.MaxDelayMin < 0 {
		problems = append(problems, "max_delay_min must not be negative")
	}
	if p.CostSavingPriority < 0 || p.CostSavingPriority > 1 {
		problems = append(problems, "cost_saving_priority must be within [0, 1]")
	}
	if p.MaxConcurrent < 0 {
		problems = append(problems, "max_concurrent must not be negative")
	}
	if p.MaxCost != nil && *p.MaxCost < 0 {
		problems = append(problems, "max_cost must not be negative")
	}
	if len(problems) > 0 {
		return &engine.ValidationError{Problems: problems}
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// respondErr maps domain errors onto status codes
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    engine.ErrInvalidInput.Error(),
			"problems": verr.Problems,
		})
	case errors.Is(err, engine.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sql.ErrNoRows):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, prices.ErrNoSource):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
