package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertrank/internal/logger"
	"alertrank/internal/triage"
	"alertrank/pkg/models"
)

// Scorer is the triage surface exposed over HTTP.
type Scorer interface {
	ScoreAlert(ctx context.Context, alert *models.Alert) (*models.ScoredAlert, error)
	ScoreBatch(ctx context.Context, alerts []*models.Alert) (*triage.BatchResult, error)
	Health(ctx context.Context) triage.HealthReport
}

// Parser converts a raw payload into an alert.
type Parser interface {
	Parse(data []byte) (*models.Alert, error)
}

// RankedStore persists scored alerts and serves them in ranking order.
type RankedStore interface {
	Save(ctx context.Context, alerts []*models.ScoredAlert) error
	FetchTop(ctx context.Context, n int64) ([]*models.ScoredAlert, error)
}

// Config tunes request limits.
type Config struct {
	MaxBodyBytes int64
	MaxBatch     int
	MaxRanked    int64
}

// Server exposes scoring, ranking, health and metrics endpoints.
type Server struct {
	r        *chi.Mux
	cfg      Config
	scorer   Scorer
	parser   Parser
	store    RankedStore
	gatherer prometheus.Gatherer
}

// NewServer builds the router. store and gatherer may be nil.
func NewServer(cfg Config, scorer Scorer, parser Parser, store RankedStore, gatherer prometheus.Gatherer) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1000
	}
	if cfg.MaxRanked <= 0 {
		cfg.MaxRanked = 1000
	}
	s := &Server{
		r:        chi.NewRouter(),
		cfg:      cfg,
		scorer:   scorer,
		parser:   parser,
		store:    store,
		gatherer: gatherer,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(requestLogger)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/health", s.getHealth)
	if s.gatherer != nil {
		s.r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.r.Route("/v1", func(r chi.Router) {
		r.Post("/score", s.postScore)
		r.Post("/batch", s.postBatch)
		r.Get("/ranked", s.getRanked)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type batchResponse struct {
	Ranked []*models.ScoredAlert `json:"ranked"`
	Failed []triage.Failure      `json:"failed"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, s.scorer.Health(ctx))
}

func (s *Server) postScore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	alert, err := s.parser.Parse(body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	scored, err := s.scorer.ScoreAlert(r.Context(), alert)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.persist(r.Context(), []*models.ScoredAlert{scored})
	writeJSON(w, http.StatusOK, scored)
}

func (s *Server) postBatch(w http.ResponseWriter, r *http.Request) {
	var payloads []json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(&payloads); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: batch must be a JSON array: %v", models.ErrSchemaMismatch, err))
		return
	}
	if len(payloads) > s.cfg.MaxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("batch of %d exceeds limit %d", len(payloads), s.cfg.MaxBatch))
		return
	}

	alerts := make([]*models.Alert, 0, len(payloads))
	failed := []triage.Failure{}
	for _, p := range payloads {
		alert, err := s.parser.Parse(p)
		if err != nil {
			failed = append(failed, triage.Failure{AlertID: peekAlertID(p), Error: err.Error()})
			continue
		}
		alerts = append(alerts, alert)
	}

	result, err := s.scorer.ScoreBatch(r.Context(), alerts)
	if err != nil && result == nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.persist(r.Context(), result.Ranked)
	writeJSON(w, http.StatusOK, batchResponse{
		Ranked: result.Ranked,
		Failed: append(failed, result.Failed...),
	})
}

func (s *Server) getRanked(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("ranked store is not configured"))
		return
	}
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	if limit > s.cfg.MaxRanked {
		limit = s.cfg.MaxRanked
	}

	top, err := s.store.FetchTop(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if top == nil {
		top = []*models.ScoredAlert{}
	}
	writeJSON(w, http.StatusOK, top)
}

func (s *Server) persist(ctx context.Context, scored []*models.ScoredAlert) {
	if s.store == nil || len(scored) == 0 {
		return
	}
	if err := s.store.Save(ctx, scored); err != nil {
		logger.Errorf("Failed to store %d scored alerts: %v", len(scored), err)
	}
}

func peekAlertID(raw json.RawMessage) string {
	var head struct {
		AlertID string `json:"alert_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	if head.AlertID != "" {
		return head.AlertID
	}
	return head.ID
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSchemaMismatch), errors.Is(err, models.ErrUnknownSeverity):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, models.ErrUnknownSeverity):
		return "unknown_severity"
	default:
		return "error"
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: errorKind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugf("%s %s -> %d (%d bytes, %s, req %s)",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
