package models

import "time"

// KnowledgeMatch is a retrieved knowledge-base entry related to an alert.
type KnowledgeMatch struct {
	Text        string  `json:"text"`
	SourceID    string  `json:"source_id"`
	Similarity  float64 `json:"similarity"`
	TechniqueID string  `json:"technique_id,omitempty"`
	Tactic      string  `json:"tactic,omitempty"`
}

// Degradable scoring inputs.
const (
	InputClassification = "classification"
	InputContext        = "context"
)

// Factor is one term of the priority formula.
type Factor struct {
	Value  float64 `json:"value"`  // input in [0,1]
	Weight float64 `json:"weight"` // configured weight
	Points float64 `json:"points"` // contribution on the 0-100 scale
}

// Factors is the contributing-factor breakdown of a priority score.
type Factors struct {
	Severity      Factor   `json:"severity"`
	Confidence    Factor   `json:"confidence"`
	Recency       Factor   `json:"recency"`
	Context       Factor   `json:"context"`
	Degraded      []string `json:"degraded,omitempty"`
	LowConfidence bool     `json:"low_confidence,omitempty"`
	Clamped       bool     `json:"clamped,omitempty"`
}

// IsDegraded reports whether the named input fell back to zero.
func (f Factors) IsDegraded(input string) bool {
	for _, d := range f.Degraded {
		if d == input {
			return true
		}
	}
	return false
}

// PriorityScore is the bounded composite ranking value of an alert.
type PriorityScore struct {
	AlertID    string    `json:"alert_id"`
	Score      float64   `json:"score"`
	Factors    Factors   `json:"factors"`
	ComputedAt time.Time `json:"computed_at"`
}
