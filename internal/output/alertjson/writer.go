package alertjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"alertrank/internal/logger"
	"alertrank/pkg/models"
)

// Writer outputs scored alerts to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	minimum float64
	mu      sync.Mutex
}

// Config configures the JSONL writer.
type Config struct {
	Path string
	// Append keeps existing file contents instead of truncating.
	Append bool
	// MinScore drops alerts scoring below it.
	MinScore float64
}

// NewWriter creates a JSONL writer for scored alerts.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("alert output path is empty")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if cfg.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(cfg.Path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logger.Infof("Scored alert JSON writer initialized: %s", cfg.Path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
		minimum: cfg.MinScore,
	}, nil
}

// WriteAlerts writes a batch of scored alerts in the order given.
func (w *Writer) WriteAlerts(alerts []*models.ScoredAlert) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, alert := range alerts {
		if alert == nil || alert.Priority.Score < w.minimum {
			continue
		}
		if err := w.encoder.Encode(alert); err != nil {
			return fmt.Errorf("failed to encode scored alert: %w", err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
