package models

import "fmt"

// Label is a classifier output class.
type Label string

const (
	LabelBenign       Label = "BENIGN"
	LabelAttack       Label = "ATTACK"
	LabelDoS          Label = "DoS"
	LabelDDoS         Label = "DDoS"
	LabelPortScan     Label = "PortScan"
	LabelBruteForce   Label = "BruteForce"
	LabelWebAttack    Label = "WebAttack"
	LabelBot          Label = "Bot"
	LabelInfiltration Label = "Infiltration"
	LabelHeartbleed   Label = "Heartbleed"
)

var knownLabels = map[Label]bool{
	LabelBenign:       true,
	LabelAttack:       true,
	LabelDoS:          true,
	LabelDDoS:         true,
	LabelPortScan:     true,
	LabelBruteForce:   true,
	LabelWebAttack:    true,
	LabelBot:          true,
	LabelInfiltration: true,
	LabelHeartbleed:   true,
}

// ParseLabel accepts only the exact labels the inference service emits.
// Anything else, including case or spelling variants, is ErrUnknownLabel.
func ParseLabel(raw string) (Label, error) {
	if l := Label(raw); knownLabels[l] {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLabel, raw)
}

// IsAttack reports whether the label names an attack class.
func (l Label) IsAttack() bool {
	return l != "" && l != LabelBenign
}

// ClassificationResult is the classifier verdict for one alert.
type ClassificationResult struct {
	AlertID         string             `json:"alert_id"`
	Label           Label              `json:"label"`
	Confidence      float64            `json:"confidence"`
	Probabilities   map[string]float64 `json:"probabilities,omitempty"`
	ModelUsed       string             `json:"model_used,omitempty"`
	InferenceTimeMS float64            `json:"inference_time_ms,omitempty"`
}

// AttackConfidence is the probability that the alert is a true attack.
// A BENIGN verdict with confidence c yields 1-c.
func (c *ClassificationResult) AttackConfidence() float64 {
	if c == nil {
		return 0
	}
	if c.Label.IsAttack() {
		return c.Confidence
	}
	return 1 - c.Confidence
}
