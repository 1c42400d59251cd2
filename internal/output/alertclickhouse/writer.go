package alertclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alertrank/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Writer sends scored alerts to ClickHouse via HTTP JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "scored_alerts"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Row is the flattened ClickHouse representation of a scored alert.
type Row struct {
	AlertID          string   `json:"alert_id"`
	Timestamp        string   `json:"ts"`
	ComputedAt       string   `json:"computed_at"`
	Severity         string   `json:"severity"`
	Score            float64  `json:"score"`
	SeverityPoints   float64  `json:"severity_points"`
	ConfidencePoints float64  `json:"confidence_points"`
	RecencyPoints    float64  `json:"recency_points"`
	ContextPoints    float64  `json:"context_points"`
	Label            string   `json:"label"`
	Confidence       float64  `json:"confidence"`
	ModelUsed        string   `json:"model_used"`
	Degraded         []string `json:"degraded"`
	LowConfidence    uint8    `json:"low_confidence"`
	Techniques       []string `json:"techniques"`
	MatchedTechnique []string `json:"matched_techniques"`
	Source           string   `json:"source"`
	Destination      string   `json:"destination"`
	Host             string   `json:"host"`
	RuleID           string   `json:"rule_id"`
	Description      string   `json:"description"`
}

// clickhouseTime is the DateTime64(3) input format accepted by JSONEachRow.
const clickhouseTime = "2006-01-02 15:04:05.000"

// ToRow flattens a scored alert.
func ToRow(s *models.ScoredAlert) Row {
	a := s.Alert
	f := s.Priority.Factors
	row := Row{
		AlertID:          a.AlertID,
		Timestamp:        a.Timestamp.UTC().Format(clickhouseTime),
		ComputedAt:       s.Priority.ComputedAt.UTC().Format(clickhouseTime),
		Severity:         string(a.Severity),
		Score:            s.Priority.Score,
		SeverityPoints:   f.Severity.Points,
		ConfidencePoints: f.Confidence.Points,
		RecencyPoints:    f.Recency.Points,
		ContextPoints:    f.Context.Points,
		Degraded:         append([]string{}, f.Degraded...),
		Techniques:       append([]string{}, a.Techniques...),
		MatchedTechnique: []string{},
		Source:           a.Source,
		Destination:      a.Destination,
		Host:             a.Host,
		RuleID:           a.RuleID,
		Description:      a.Description,
	}
	if f.LowConfidence {
		row.LowConfidence = 1
	}
	if c := s.Classification; c != nil {
		row.Label = string(c.Label)
		row.Confidence = c.Confidence
		row.ModelUsed = c.ModelUsed
	}
	for _, m := range s.Matches {
		if m.TechniqueID != "" {
			row.MatchedTechnique = append(row.MatchedTechnique, m.TechniqueID)
		}
	}
	return row
}

// WriteAlerts sends a batch of scored alerts.
func (w *Writer) WriteAlerts(alerts []*models.ScoredAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, alert := range alerts {
		if alert == nil || alert.Alert == nil {
			continue
		}
		if err := enc.Encode(ToRow(alert)); err != nil {
			return fmt.Errorf("failed to marshal scored alert: %w", err)
		}
	}
	if body.Len() == 0 {
		return nil
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}

// CreateTableSQL returns the DDL for the table WriteAlerts inserts into.
func CreateTableSQL(database, table string) string {
	if database == "" {
		database = "default"
	}
	if table == "" {
		table = "scored_alerts"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    alert_id String,
    ts DateTime64(3, 'UTC'),
    computed_at DateTime64(3, 'UTC'),
    severity LowCardinality(String),
    score Float64,
    severity_points Float64,
    confidence_points Float64,
    recency_points Float64,
    context_points Float64,
    label LowCardinality(String),
    confidence Float64,
    model_used LowCardinality(String),
    degraded Array(String),
    low_confidence UInt8,
    techniques Array(String),
    matched_techniques Array(String),
    source String,
    destination String,
    host String,
    rule_id String,
    description String
) ENGINE = ReplacingMergeTree(computed_at)
ORDER BY (alert_id)`, quoteIdent(database), quoteIdent(table))
}
