package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"alertrank/pkg/models"
)

// TechniqueSeverities resolves the known severity of an ATT&CK technique.
type TechniqueSeverities interface {
	SeverityOf(techniqueID string) (models.Severity, bool)
}

// Input is everything known about one alert at scoring time.
type Input struct {
	Alert          *models.Alert
	Classification *models.ClassificationResult
	Matches        []models.KnowledgeMatch
	// RetrievalFailed marks an empty Matches caused by a dependency failure
	// rather than by the index having nothing relevant.
	RetrievalFailed bool
}

// Scorer computes bounded priority scores. It holds no per-alert state and is
// safe for concurrent use.
type Scorer struct {
	cfg        Config
	techniques TechniqueSeverities
	now        func() time.Time
}

// NewScorer validates cfg and returns a scorer. Configuration errors are
// reported here, before any alert is scored.
func NewScorer(cfg Config, techniques TechniqueSeverities) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, techniques: techniques, now: time.Now}, nil
}

// WithClock returns a copy of the scorer reading time from now.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	cp := *s
	cp.now = now
	return &cp
}

// Config returns the validated configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the priority for one alert. Only structurally invalid input
// (an unknown severity) is an error; missing classification or context
// degrades the corresponding term to zero.
func (s *Scorer) Score(in Input) (models.PriorityScore, error) {
	if in.Alert == nil {
		return models.PriorityScore{}, fmt.Errorf("score: alert is nil")
	}
	sevValue, err := s.cfg.Scale.Normalize(in.Alert.Severity)
	if err != nil {
		return models.PriorityScore{}, fmt.Errorf("score alert %s: %w", in.Alert.AlertID, err)
	}

	now := s.now()
	w := s.cfg.Weights
	factors := models.Factors{
		Severity:   factor(sevValue, w.Severity),
		Confidence: factor(in.Classification.AttackConfidence(), w.Confidence),
		Recency:    factor(TimeDecay(now.Sub(in.Alert.Timestamp), s.cfg.HalfLife), w.Recency),
		Context:    factor(s.MaxContextSeverity(in.Matches), w.Context),
	}

	if in.Classification == nil {
		factors.Degraded = append(factors.Degraded, models.InputClassification)
	}
	if in.RetrievalFailed {
		factors.Degraded = append(factors.Degraded, models.InputContext)
	}
	factors.LowConfidence = len(factors.Degraded) == 2

	raw := factors.Severity.Points + factors.Confidence.Points + factors.Recency.Points + factors.Context.Points
	score, clamped := clamp(raw, 0, 100)
	factors.Clamped = clamped

	return models.PriorityScore{
		AlertID:    in.Alert.AlertID,
		Score:      round2(score),
		Factors:    factors,
		ComputedAt: now,
	}, nil
}

// MaxContextSeverity returns the normalized severity of the most severe
// technique referenced by the matches, or 0 if none resolves.
func (s *Scorer) MaxContextSeverity(matches []models.KnowledgeMatch) float64 {
	if s.techniques == nil {
		return 0
	}
	best := 0.0
	for _, m := range matches {
		id := strings.TrimSpace(m.TechniqueID)
		if id == "" {
			continue
		}
		sev, ok := s.techniques.SeverityOf(id)
		if !ok {
			continue
		}
		v, err := s.cfg.Scale.Normalize(sev)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	return best
}

// TimeDecay halves every halfLife of elapsed time. Zero or negative elapsed
// time (clock skew) maps to 1.
func TimeDecay(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, float64(elapsed)/float64(halfLife))
}

// Less is the ranking order: score descending, then older timestamp first,
// then alert ID ascending.
func Less(a, b *models.ScoredAlert) bool {
	if a.Priority.Score != b.Priority.Score {
		return a.Priority.Score > b.Priority.Score
	}
	ta, tb := alertTime(a), alertTime(b)
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return alertID(a) < alertID(b)
}

// Rank sorts scored alerts in place by Less and returns them.
func Rank(alerts []*models.ScoredAlert) []*models.ScoredAlert {
	sort.SliceStable(alerts, func(i, j int) bool {
		return Less(alerts[i], alerts[j])
	})
	return alerts
}

func alertTime(s *models.ScoredAlert) time.Time {
	if s.Alert == nil {
		return time.Time{}
	}
	return s.Alert.Timestamp
}

func alertID(s *models.ScoredAlert) string {
	if s.Alert != nil && s.Alert.AlertID != "" {
		return s.Alert.AlertID
	}
	return s.Priority.AlertID
}

func factor(value, weight float64) models.Factor {
	return models.Factor{Value: value, Weight: weight, Points: 100 * weight * value}
}

// clampDrift is the floating-point slack below which bounding a score is not
// reported as a clamp.
const clampDrift = 1e-6

func clamp(v, lo, hi float64) (float64, bool) {
	if v < lo {
		return lo, lo-v > clampDrift
	}
	if v > hi {
		return hi, v-hi > clampDrift
	}
	return v, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
