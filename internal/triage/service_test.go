package triage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/internal/features"
	"alertrank/internal/knowledge"
	"alertrank/internal/metrics"
	"alertrank/internal/scoring"
	"alertrank/pkg/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClassifier struct {
	result *models.ClassificationResult
	err    error
	delay  time.Duration
	calls  int32
}

func (f *fakeClassifier) Classify(ctx context.Context, alertID string, vector []float64) (*models.ClassificationResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if len(vector) != features.CICIDS2017().Width() {
		return nil, fmt.Errorf("unexpected vector width %d", len(vector))
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrClassificationUnavailable, ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.AlertID = alertID
	return &res, nil
}

func (f *fakeClassifier) Health(context.Context) error { return f.err }

type fakeRetriever struct {
	matches []models.KnowledgeMatch
	err     error
	delay   time.Duration
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int) ([]models.KnowledgeMatch, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return []models.KnowledgeMatch{}, fmt.Errorf("%w: %v", models.ErrRetrievalUnavailable, ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return []models.KnowledgeMatch{}, f.err
	}
	return f.matches, nil
}

func (f *fakeRetriever) Health(context.Context) error { return f.err }

type fakeEnricher struct{ err error }

func (f fakeEnricher) Enrich(ctx context.Context, s *models.ScoredAlert) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "summary for " + s.Alert.AlertID, nil
}

func newService(t *testing.T, c Classifier, r Retriever, cfg Config) *Service {
	t.Helper()
	scorer, err := scoring.NewScorer(scoring.Config{Weights: scoring.DefaultWeights()}, knowledge.DefaultCatalog())
	require.NoError(t, err)
	svc, err := NewService(cfg, scorer.WithClock(func() time.Time { return now }), nil, c, r)
	require.NoError(t, err)
	return svc
}

func attackClassifier(conf float64) *fakeClassifier {
	return &fakeClassifier{result: &models.ClassificationResult{Label: models.LabelAttack, Confidence: conf, ModelUsed: "random_forest"}}
}

func bruteForceMatches() *fakeRetriever {
	return &fakeRetriever{matches: []models.KnowledgeMatch{
		{Text: "Brute Force", SourceID: "T1110", Similarity: 0.92, TechniqueID: "T1110", Tactic: "Credential Access"},
	}}
}

func criticalAlert(id string) *models.Alert {
	return &models.Alert{
		AlertID:   id,
		Timestamp: now,
		Severity:  models.SeverityCritical,
		Features:  map[string]interface{}{"Destination Port": 22, "Flow Duration": 1200},
	}
}

func TestScoreAlertFullSignal(t *testing.T) {
	svc := newService(t, attackClassifier(0.99), bruteForceMatches(), Config{})

	scored, err := svc.ScoreAlert(context.Background(), criticalAlert("a-1"))
	require.NoError(t, err)
	assert.Equal(t, 97.2, scored.Priority.Score)
	assert.Empty(t, scored.Priority.Factors.Degraded)
	require.NotNil(t, scored.Classification)
	assert.Equal(t, "a-1", scored.Classification.AlertID)
	assert.Len(t, scored.Matches, 1)
	assert.Len(t, scored.Alert.Vector, 78)
}

func TestScoreAlertDegradesOnDependencyTimeouts(t *testing.T) {
	slowC := attackClassifier(0.99)
	slowC.delay = time.Second
	slowR := bruteForceMatches()
	slowR.delay = time.Second
	svc := newService(t, slowC, slowR, Config{ClassifyTimeout: 20 * time.Millisecond, RetrieveTimeout: 20 * time.Millisecond})

	start := time.Now()
	a := criticalAlert("a-2")
	a.Timestamp = now.Add(-90 * 24 * time.Hour)
	a.Severity = models.SeverityLow
	scored, err := svc.ScoreAlert(context.Background(), a)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Nil(t, scored.Classification)
	assert.Empty(t, scored.Matches)
	assert.Equal(t, 10.0, scored.Priority.Score)
	assert.Equal(t, []string{models.InputClassification, models.InputContext}, scored.Priority.Factors.Degraded)
	assert.True(t, scored.Priority.Factors.LowConfidence)
}

func TestScoreAlertCallsDependenciesConcurrently(t *testing.T) {
	c := attackClassifier(0.99)
	c.delay = 200 * time.Millisecond
	r := bruteForceMatches()
	r.delay = 200 * time.Millisecond
	svc := newService(t, c, r, Config{ClassifyTimeout: time.Second, RetrieveTimeout: time.Second})

	start := time.Now()
	scored, err := svc.ScoreAlert(context.Background(), criticalAlert("a-6"))
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, 97.2, scored.Priority.Score)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 350*time.Millisecond)
}

func TestScoreAlertUnknownLabelDegradesClassification(t *testing.T) {
	c := &fakeClassifier{err: fmt.Errorf("classify: %w: %q", models.ErrUnknownLabel, "MAYBE")}
	reg := prometheus.NewRegistry()
	svc := newService(t, c, bruteForceMatches(), Config{})
	svc.SetMetrics(metrics.NewMetrics(reg))

	scored, err := svc.ScoreAlert(context.Background(), criticalAlert("a-3"))
	require.NoError(t, err)
	assert.True(t, scored.Priority.Factors.IsDegraded(models.InputClassification))
	assert.False(t, scored.Priority.Factors.IsDegraded(models.InputContext))
	assert.Equal(t, 67.5, scored.Priority.Score)
}

func TestScoreAlertRejectsStructuralErrors(t *testing.T) {
	c := attackClassifier(0.9)
	svc := newService(t, c, bruteForceMatches(), Config{})

	bad := criticalAlert("a-4")
	bad.Severity = "urgent"
	_, err := svc.ScoreAlert(context.Background(), bad)
	assert.True(t, errors.Is(err, models.ErrUnknownSeverity))

	mismatch := criticalAlert("a-5")
	mismatch.Features = map[string]interface{}{"feature_count": 80}
	_, err = svc.ScoreAlert(context.Background(), mismatch)
	assert.True(t, errors.Is(err, models.ErrSchemaMismatch))

	assert.Equal(t, int32(0), atomic.LoadInt32(&c.calls))
}

func TestScoreAlertWithoutDependencies(t *testing.T) {
	svc := newService(t, nil, nil, Config{})
	a := criticalAlert("")
	scored, err := svc.ScoreAlert(context.Background(), a)
	require.NoError(t, err)
	assert.NotEmpty(t, scored.Alert.AlertID)
	assert.Equal(t, scored.Alert.AlertID, scored.Priority.AlertID)
	assert.Equal(t, 60.0, scored.Priority.Score)
	assert.True(t, scored.Priority.Factors.LowConfidence)
}

func TestScoreAlertEnrichment(t *testing.T) {
	svc := newService(t, attackClassifier(0.99), bruteForceMatches(), Config{})
	svc.SetEnricher(fakeEnricher{})
	scored, err := svc.ScoreAlert(context.Background(), criticalAlert("a-6"))
	require.NoError(t, err)
	assert.Equal(t, "summary for a-6", scored.Enrichment)

	svc.SetEnricher(fakeEnricher{err: errors.New("ollama down")})
	scored, err = svc.ScoreAlert(context.Background(), criticalAlert("a-7"))
	require.NoError(t, err)
	assert.Empty(t, scored.Enrichment)
	assert.Equal(t, 97.2, scored.Priority.Score)
}

func TestScoreAlertCancelledContext(t *testing.T) {
	svc := newService(t, attackClassifier(0.99), bruteForceMatches(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.ScoreAlert(ctx, criticalAlert("a-8"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestScoreBatchRanksAndReportsFailures(t *testing.T) {
	svc := newService(t, attackClassifier(0.99), bruteForceMatches(), Config{BatchConcurrency: 2})

	a := criticalAlert("A")
	a.Severity = models.SeverityLow
	b := criticalAlert("B")
	b.Severity = models.SeverityMedium
	c := criticalAlert("C")
	broken := criticalAlert("X")
	broken.Severity = "bogus"

	res, err := svc.ScoreBatch(context.Background(), []*models.Alert{a, broken, b, c})
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Ranked))
	for _, s := range res.Ranked {
		ids = append(ids, s.Alert.AlertID)
	}
	assert.Equal(t, []string{"C", "B", "A"}, ids)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "X", res.Failed[0].AlertID)
	assert.Contains(t, res.Failed[0].Error, "unknown severity")
}

func TestHealth(t *testing.T) {
	svc := newService(t, attackClassifier(0.9), bruteForceMatches(), Config{})
	assert.Equal(t, StatusHealthy, svc.Health(context.Background()).Status)

	svc = newService(t, &fakeClassifier{err: models.ErrClassificationUnavailable}, bruteForceMatches(), Config{})
	report := svc.Health(context.Background())
	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, "ok", report.Dependencies["retriever"])

	svc = newService(t, &fakeClassifier{err: models.ErrClassificationUnavailable}, &fakeRetriever{err: models.ErrRetrievalUnavailable}, Config{})
	assert.Equal(t, StatusDegraded, svc.Health(context.Background()).Status)
}
