package scoring

import (
	"fmt"
	"math"
	"time"

	"alertrank/pkg/models"
)

// WeightTotal is the fixed sum the four weights must reach.
const WeightTotal = 1.0

const weightTolerance = 1e-9

// DefaultHalfLife is the age at which the recency term halves.
const DefaultHalfLife = time.Hour

// Weights controls how much each signal contributes to the priority score.
type Weights struct {
	Severity   float64 `yaml:"severity" json:"severity"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Recency    float64 `yaml:"recency" json:"recency"`
	Context    float64 `yaml:"context" json:"context"`
}

// DefaultWeights returns {severity 0.4, confidence 0.3, recency 0.2, context 0.1}.
func DefaultWeights() Weights {
	return Weights{Severity: 0.4, Confidence: 0.3, Recency: 0.2, Context: 0.1}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Severity + w.Confidence + w.Recency + w.Context
}

// Validate rejects negative or non-finite weights and totals other than WeightTotal.
func (w Weights) Validate() error {
	named := []struct {
		name  string
		value float64
	}{
		{"severity", w.Severity},
		{"confidence", w.Confidence},
		{"recency", w.Recency},
		{"context", w.Context},
	}
	for _, n := range named {
		if math.IsNaN(n.value) || math.IsInf(n.value, 0) {
			return fmt.Errorf("%w: %s weight is not finite", models.ErrInvalidWeightConfiguration, n.name)
		}
		if n.value < 0 {
			return fmt.Errorf("%w: %s weight %.4f is negative", models.ErrInvalidWeightConfiguration, n.name, n.value)
		}
	}
	if sum := w.Sum(); math.Abs(sum-WeightTotal) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want %.1f", models.ErrInvalidWeightConfiguration, sum, WeightTotal)
	}
	return nil
}

// SeverityScale maps the severity enumeration onto (0,1].
type SeverityScale map[models.Severity]float64

// DefaultSeverityScale returns low=0.25, medium=0.5, high=0.75, critical=1.0.
func DefaultSeverityScale() SeverityScale {
	return SeverityScale{
		models.SeverityLow:      0.25,
		models.SeverityMedium:   0.5,
		models.SeverityHigh:     0.75,
		models.SeverityCritical: 1.0,
	}
}

// Validate requires every severity to be present, within (0,1] and strictly
// increasing from low to critical.
func (s SeverityScale) Validate() error {
	prev := 0.0
	for _, sev := range models.Severities {
		v, ok := s[sev]
		if !ok {
			return fmt.Errorf("severity scale is missing %q", sev)
		}
		if v <= prev || v > 1 {
			return fmt.Errorf("severity scale value %.4f for %q must be in (%.4f, 1]", v, sev, prev)
		}
		prev = v
	}
	return nil
}

// Normalize maps a severity onto the scale.
func (s SeverityScale) Normalize(sev models.Severity) (float64, error) {
	parsed, err := models.ParseSeverity(string(sev))
	if err != nil {
		return 0, err
	}
	return s[parsed], nil
}

// Config configures a Scorer.
type Config struct {
	Weights  Weights
	Scale    SeverityScale
	HalfLife time.Duration
}

// Validate checks the configuration, filling defaults for an empty scale and half-life.
func (c *Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if len(c.Scale) == 0 {
		c.Scale = DefaultSeverityScale()
	}
	if err := c.Scale.Validate(); err != nil {
		return err
	}
	if c.HalfLife < 0 {
		return fmt.Errorf("half-life %s is negative", c.HalfLife)
	}
	if c.HalfLife == 0 {
		c.HalfLife = DefaultHalfLife
	}
	return nil
}
