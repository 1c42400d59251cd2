package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"alertrank/internal/httpjson"
	"alertrank/internal/logger"
	"alertrank/pkg/models"
)

// DefaultModels is the model fallback order used when none is configured.
var DefaultModels = []string{"random_forest", "xgboost", "decision_tree"}

// Config configures the classification client.
type Config struct {
	URL     string
	Timeout time.Duration
	Models  []string
	Headers map[string]string
	// Retries is how many times a 429 or 5xx reply is retried per model.
	Retries int
}

// Client calls the external classification service.
type Client struct {
	http    *httpjson.Client
	models  []string
	timeout time.Duration
}

type predictRequest struct {
	Features  []float64 `json:"features"`
	ModelName string    `json:"model_name"`
}

type predictResponse struct {
	Prediction      string             `json:"prediction"`
	Confidence      *float64           `json:"confidence"`
	Probabilities   map[string]float64 `json:"probabilities"`
	ModelUsed       string             `json:"model_used"`
	InferenceTimeMS float64            `json:"inference_time_ms"`
}

type healthResponse struct {
	Status       string   `json:"status"`
	ModelsLoaded []string `json:"models_loaded"`
}

// New creates a classification client.
func New(cfg Config, opts ...httpjson.Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("classifier url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	chain := cfg.Models
	if len(chain) == 0 {
		chain = DefaultModels
	}

	base := []httpjson.Option{
		httpjson.WithTimeout(timeout),
		httpjson.WithHeaders(cfg.Headers),
		httpjson.WithRetries(cfg.Retries),
	}
	return &Client{
		http:    httpjson.New(cfg.URL, append(base, opts...)...),
		models:  append([]string(nil), chain...),
		timeout: timeout,
	}, nil
}

// Models returns the model fallback order.
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}

// Classify requests a verdict for a normalized feature vector. Models are
// tried in order while the service is unavailable; a malformed verdict is
// returned immediately as ErrUnknownLabel.
func (c *Client) Classify(ctx context.Context, alertID string, vector []float64) (*models.ClassificationResult, error) {
	var lastErr error
	for _, model := range c.models {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrClassificationUnavailable, err)
		}

		result, err := c.predict(ctx, alertID, model, vector)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, models.ErrClassificationUnavailable) {
			return nil, err
		}
		logger.Debugf("classifier model %s unavailable for alert %s: %v", model, alertID, err)
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) predict(ctx context.Context, alertID, model string, vector []float64) (*models.ClassificationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp predictResponse
	req := predictRequest{Features: vector, ModelName: model}
	if err := c.http.PostJSON(callCtx, "/predict", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", models.ErrClassificationUnavailable, model, err)
	}

	label, err := models.ParseLabel(resp.Prediction)
	if err != nil {
		return nil, fmt.Errorf("classify alert %s: %w", alertID, err)
	}
	if resp.Confidence == nil {
		return nil, fmt.Errorf("classify alert %s: %w: confidence missing", alertID, models.ErrUnknownLabel)
	}
	conf := *resp.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("classify alert %s: %w: confidence %v outside [0,1]", alertID, models.ErrUnknownLabel, conf)
	}

	used := resp.ModelUsed
	if used == "" {
		used = model
	}
	return &models.ClassificationResult{
		AlertID:         alertID,
		Label:           label,
		Confidence:      conf,
		Probabilities:   resp.Probabilities,
		ModelUsed:       used,
		InferenceTimeMS: resp.InferenceTimeMS,
	}, nil
}

// Health checks the service /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp healthResponse
	if err := c.http.GetJSON(callCtx, "/health", &resp); err != nil {
		return fmt.Errorf("%w: %v", models.ErrClassificationUnavailable, err)
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "healthy") {
		return fmt.Errorf("%w: status %s", models.ErrClassificationUnavailable, resp.Status)
	}
	return nil
}
