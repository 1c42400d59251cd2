package enricher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertrank/internal/httpjson"
	"alertrank/internal/logger"
	"alertrank/pkg/models"
)

// ErrUnavailable is returned when no model produced a response.
var ErrUnavailable = errors.New("enrichment unavailable")

const systemPrompt = "You are a SOC analyst assistant. Summarize the alert in at most three sentences " +
	"and suggest one next investigative step. Do not restate the score."

// Config configures the enrichment client.
type Config struct {
	URL            string
	PrimaryModel   string
	FallbackModels []string
	Timeout        time.Duration
	Temperature    float64
	MaxTokens      int
	Retries        int
}

// Client produces free-text enrichment from an Ollama-compatible endpoint.
type Client struct {
	http        *httpjson.Client
	models      []string
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// New creates an enrichment client.
func New(cfg Config, opts ...httpjson.Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("enricher url is required")
	}
	if strings.TrimSpace(cfg.PrimaryModel) == "" {
		return nil, fmt.Errorf("enricher primary model is required")
	}
	c := &Client{
		models:      append([]string{cfg.PrimaryModel}, cfg.FallbackModels...),
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 256
	}
	base := []httpjson.Option{httpjson.WithTimeout(c.timeout), httpjson.WithRetries(cfg.Retries)}
	c.http = httpjson.New(cfg.URL, append(base, opts...)...)
	return c, nil
}

// Enrich returns a short analyst-facing narrative for a scored alert.
func (c *Client) Enrich(ctx context.Context, scored *models.ScoredAlert) (string, error) {
	if scored == nil || scored.Alert == nil {
		return "", fmt.Errorf("enrich: alert is nil")
	}
	prompt := BuildPrompt(scored)

	var lastErr error
	for _, model := range c.models {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		text, err := c.generate(ctx, model, prompt)
		if err == nil {
			return text, nil
		}
		logger.Warnf("enrichment model %s failed for alert %s: %v", model, scored.Alert.AlertID, err)
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) generate(ctx context.Context, model, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		System: systemPrompt,
		Options: generateOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	}
	var resp generateResponse
	if err := c.http.PostJSON(callCtx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty response", model)
	}
	return text, nil
}

// Health verifies the endpoint is reachable and serves the primary model.
func (c *Client) Health(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tags tagsResponse
	if err := c.http.GetJSON(callCtx, "/api/tags", &tags); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, m := range tags.Models {
		for _, want := range c.models {
			if m.Name == want {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: none of %v loaded", ErrUnavailable, c.models)
}

// BuildPrompt renders the alert, verdict and context into an LLM prompt.
func BuildPrompt(s *models.ScoredAlert) string {
	a := s.Alert
	var b strings.Builder
	fmt.Fprintf(&b, "Alert %s (severity %s) at %s\n", a.AlertID, a.Severity, a.Timestamp.UTC().Format(time.RFC3339))
	if a.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", a.Description)
	}
	if a.Source != "" || a.Destination != "" {
		fmt.Fprintf(&b, "Flow: %s -> %s\n", a.Source, a.Destination)
	}
	if a.Host != "" {
		fmt.Fprintf(&b, "Host: %s\n", a.Host)
	}
	if s.Classification != nil {
		fmt.Fprintf(&b, "Classifier: %s (confidence %.2f, model %s)\n",
			s.Classification.Label, s.Classification.Confidence, s.Classification.ModelUsed)
	} else {
		b.WriteString("Classifier: unavailable\n")
	}
	for _, m := range s.Matches {
		fmt.Fprintf(&b, "Related: %s %s (similarity %.2f): %s\n", m.TechniqueID, m.Tactic, m.Similarity, m.Text)
	}
	fmt.Fprintf(&b, "Priority: %.2f/100\n", s.Priority.Score)
	return b.String()
}
