package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the declared criticality of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists the closed severity enumeration in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity maps a textual level onto the closed enumeration.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, raw)
	}
}

// Valid reports whether s is part of the closed enumeration.
func (s Severity) Valid() bool {
	_, err := ParseSeverity(string(s))
	return err == nil
}

// Alert is a single security event awaiting triage.
type Alert struct {
	AlertID     string                 `json:"alert_id"`
	Timestamp   time.Time              `json:"ts"`
	Severity    Severity               `json:"severity"`
	Source      string                 `json:"source,omitempty"`
	Destination string                 `json:"destination,omitempty"`
	Host        string                 `json:"host,omitempty"`
	RuleID      string                 `json:"rule_id,omitempty"`
	Description string                 `json:"description,omitempty"`
	Techniques  []string               `json:"techniques,omitempty"`
	Features    map[string]interface{} `json:"features,omitempty"`
	Vector      []float64              `json:"-"`
}

// ScoredAlert is an alert with its classification, context and priority appended.
type ScoredAlert struct {
	Alert          *Alert                `json:"alert"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Matches        []KnowledgeMatch      `json:"matches,omitempty"`
	Priority       PriorityScore         `json:"priority"`
	Enrichment     string                `json:"enrichment,omitempty"`
}
