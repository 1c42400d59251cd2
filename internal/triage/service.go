package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"alertrank/internal/features"
	"alertrank/internal/logger"
	"alertrank/internal/metrics"
	"alertrank/internal/retriever"
	"alertrank/internal/scoring"
	"alertrank/pkg/models"
)

// Classifier produces a verdict for a normalized feature vector.
type Classifier interface {
	Classify(ctx context.Context, alertID string, vector []float64) (*models.ClassificationResult, error)
}

// Retriever returns knowledge matches for a free-text query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.KnowledgeMatch, error)
}

// Enricher produces optional analyst-facing text for a scored alert.
type Enricher interface {
	Enrich(ctx context.Context, scored *models.ScoredAlert) (string, error)
}

// Config holds per-call timeouts and batch limits.
type Config struct {
	ClassifyTimeout  time.Duration
	RetrieveTimeout  time.Duration
	EnrichTimeout    time.Duration
	TopK             int
	BatchConcurrency int
}

const defaultBatchConcurrency = 10

// Service scores alerts end to end. Classifier and retriever calls for one
// alert run concurrently; either failing degrades its term instead of
// failing the alert.
type Service struct {
	cfg        Config
	scorer     *scoring.Scorer
	normalizer *features.Normalizer
	classifier Classifier
	retriever  Retriever
	enricher   Enricher
	metrics    *metrics.Metrics
}

// NewService wires the scoring dependencies. classifier and retriever may be
// nil, in which case their terms are always degraded.
func NewService(cfg Config, scorer *scoring.Scorer, normalizer *features.Normalizer, classifier Classifier, retriever Retriever) (*Service, error) {
	if scorer == nil {
		return nil, fmt.Errorf("triage: scorer is required")
	}
	if normalizer == nil {
		normalizer = features.NewNormalizer(nil)
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 5 * time.Second
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = 3 * time.Second
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 60 * time.Second
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	return &Service{
		cfg:        cfg,
		scorer:     scorer,
		normalizer: normalizer,
		classifier: classifier,
		retriever:  retriever,
	}, nil
}

// SetEnricher enables optional enrichment of scored alerts.
func (s *Service) SetEnricher(e Enricher) {
	s.enricher = e
}

// SetMetrics attaches Prometheus collectors.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// ScoreAlert classifies, retrieves context for, and scores one alert.
// Structural problems (schema mismatch, unknown severity) are returned as
// errors; dependency failures only degrade the score.
func (s *Service) ScoreAlert(ctx context.Context, alert *models.Alert) (*models.ScoredAlert, error) {
	start := time.Now()
	scored, err := s.scoreAlert(ctx, alert)
	if err != nil {
		s.metrics.ObserveScore(statusOf(err), time.Since(start), 0)
		return nil, err
	}
	s.metrics.ObserveScore("success", time.Since(start), scored.Priority.Score)
	for _, input := range scored.Priority.Factors.Degraded {
		s.metrics.IncDegraded(input)
	}
	return scored, nil
}

func (s *Service) scoreAlert(ctx context.Context, alert *models.Alert) (*models.ScoredAlert, error) {
	if alert == nil {
		return nil, fmt.Errorf("score: alert is nil")
	}
	if alert.AlertID == "" {
		alert.AlertID = uuid.NewString()
	}
	if _, err := s.scorer.Config().Scale.Normalize(alert.Severity); err != nil {
		return nil, fmt.Errorf("score alert %s: %w", alert.AlertID, err)
	}
	if alert.Vector == nil {
		vector, err := s.normalizer.Normalize(alert.Features)
		if err != nil {
			return nil, fmt.Errorf("score alert %s: %w", alert.AlertID, err)
		}
		alert.Vector = vector
	}

	var (
		classification  *models.ClassificationResult
		matches         = []models.KnowledgeMatch{}
		retrievalFailed bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		classification = s.classify(gctx, alert)
		return nil
	})
	g.Go(func() error {
		matches, retrievalFailed = s.retrieve(gctx, alert)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("score alert %s: %w", alert.AlertID, err)
	}

	priority, err := s.scorer.Score(scoring.Input{
		Alert:           alert,
		Classification:  classification,
		Matches:         matches,
		RetrievalFailed: retrievalFailed,
	})
	if err != nil {
		return nil, err
	}
	if priority.Factors.LowConfidence {
		logger.Warnf("alert %s scored with every degradable input missing: %.2f", alert.AlertID, priority.Score)
	}

	scored := &models.ScoredAlert{
		Alert:          alert,
		Classification: classification,
		Matches:        matches,
		Priority:       priority,
	}
	s.enrich(ctx, scored)
	return scored, nil
}

func (s *Service) classify(ctx context.Context, alert *models.Alert) *models.ClassificationResult {
	if s.classifier == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifyTimeout)
	defer cancel()

	result, err := s.classifier.Classify(cctx, alert.AlertID, alert.Vector)
	if err != nil {
		kind := dependencyErrorKind(cctx, err)
		s.metrics.IncDependencyError("classifier", kind)
		if errors.Is(err, models.ErrUnknownLabel) {
			logger.Errorf("classifier returned a malformed verdict for alert %s: %v", alert.AlertID, err)
		} else {
			logger.Warnf("classification degraded for alert %s (%s): %v", alert.AlertID, kind, err)
		}
		return nil
	}
	s.metrics.ObserveConfidence(result.Confidence)
	return result
}

func (s *Service) retrieve(ctx context.Context, alert *models.Alert) ([]models.KnowledgeMatch, bool) {
	if s.retriever == nil {
		return []models.KnowledgeMatch{}, true
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
	defer cancel()

	matches, err := s.retriever.Retrieve(rctx, retriever.BuildQuery(alert), s.cfg.TopK)
	if err != nil {
		kind := dependencyErrorKind(rctx, err)
		s.metrics.IncDependencyError("retriever", kind)
		logger.Warnf("context retrieval degraded for alert %s (%s): %v", alert.AlertID, kind, err)
		return []models.KnowledgeMatch{}, true
	}
	if matches == nil {
		matches = []models.KnowledgeMatch{}
	}
	return matches, false
}

func (s *Service) enrich(ctx context.Context, scored *models.ScoredAlert) {
	if s.enricher == nil {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EnrichTimeout)
	defer cancel()

	text, err := s.enricher.Enrich(ectx, scored)
	if err != nil {
		s.metrics.IncDependencyError("enricher", dependencyErrorKind(ectx, err))
		logger.Debugf("enrichment skipped for alert %s: %v", scored.Alert.AlertID, err)
		return
	}
	scored.Enrichment = text
}

// Failure names an alert that could not be scored.
type Failure struct {
	AlertID string `json:"alert_id"`
	Error   string `json:"error"`
}

// BatchResult is the outcome of scoring a collection of alerts.
type BatchResult struct {
	Ranked []*models.ScoredAlert `json:"ranked"`
	Failed []Failure             `json:"failed"`
}

// ScoreBatch scores alerts in parallel and returns them in ranking order.
// An alert that fails is reported in Failed and does not affect the others.
func (s *Service) ScoreBatch(ctx context.Context, alerts []*models.Alert) (*BatchResult, error) {
	scored := make([]*models.ScoredAlert, len(alerts))
	errs := make([]error, len(alerts))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, alert := range alerts {
		i, alert := i, alert
		g.Go(func() error {
			scored[i], errs[i] = s.ScoreAlert(ctx, alert)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{
		Ranked: make([]*models.ScoredAlert, 0, len(alerts)),
		Failed: []Failure{},
	}
	for i, err := range errs {
		if err != nil {
			id := ""
			if alerts[i] != nil {
				id = alerts[i].AlertID
			}
			result.Failed = append(result.Failed, Failure{AlertID: id, Error: err.Error()})
			continue
		}
		result.Ranked = append(result.Ranked, scored[i])
	}
	scoring.Rank(result.Ranked)

	if len(result.Failed) > 0 {
		logger.Warnf("batch scored %d of %d alerts, %d failed", len(result.Ranked), len(alerts), len(result.Failed))
	}
	return result, ctx.Err()
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, models.ErrSchemaMismatch), errors.Is(err, models.ErrUnknownSeverity):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func dependencyErrorKind(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, models.ErrUnknownLabel):
		return "unknown_label"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}
