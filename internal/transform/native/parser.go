package native

import (
	"encoding/json"
	"fmt"
	"time"

	"alertrank/internal/validate"
	"alertrank/pkg/models"
)

// Parser decodes versioned native alert payloads.
type Parser struct {
	validator *validate.AlertValidator
}

// NewParser returns a parser backed by the embedded schema.
func NewParser() (*Parser, error) {
	v, err := validate.NewAlertValidator()
	if err != nil {
		return nil, err
	}
	return &Parser{validator: v}, nil
}

// Parse validates and converts one native payload.
func (p *Parser) Parse(data []byte) (*models.Alert, error) {
	doc, err := p.validator.Decode(data)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc)
}

func fromDocument(doc map[string]interface{}) (*models.Alert, error) {
	ts, err := time.Parse(time.RFC3339Nano, str(doc, "ts"))
	if err != nil {
		return nil, fmt.Errorf("%w: ts: %v", models.ErrSchemaMismatch, err)
	}
	sev, err := models.ParseSeverity(str(doc, "severity"))
	if err != nil {
		return nil, err
	}

	alert := &models.Alert{
		AlertID:     str(doc, "alert_id"),
		Timestamp:   ts.UTC(),
		Severity:    sev,
		Source:      str(doc, "source"),
		Destination: str(doc, "destination"),
		Host:        str(doc, "host"),
		RuleID:      str(doc, "rule_id"),
		Description: str(doc, "description"),
	}
	if techniques, ok := doc["techniques"].([]interface{}); ok {
		for _, t := range techniques {
			if s, ok := t.(string); ok {
				alert.Techniques = append(alert.Techniques, s)
			}
		}
	}
	switch f := doc["features"].(type) {
	case map[string]interface{}:
		alert.Features = f
	case []interface{}:
		alert.Features = map[string]interface{}{"features": f}
	}
	return alert, nil
}

func str(doc map[string]interface{}, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}
