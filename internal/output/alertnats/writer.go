package alertnats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"alertrank/internal/logger"
	"alertrank/pkg/models"
)

// Config configures the NATS writer.
type Config struct {
	URL           string
	SubjectPrefix string
	FlushTimeout  time.Duration
}

type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Writer publishes scored alerts to NATS, one message per alert on
// <prefix>.<severity>.
type Writer struct {
	conn         publisher
	prefix       string
	flushTimeout time.Duration
}

// NewWriter connects to NATS.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("alertrank"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Infof("NATS scored alert writer connected: %s", cfg.URL)
	return newWriter(nc, cfg), nil
}

func newWriter(conn publisher, cfg Config) *Writer {
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "alertrank.scored"
	}
	timeout := cfg.FlushTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{conn: conn, prefix: prefix, flushTimeout: timeout}
}

// Subject returns the subject an alert is published on.
func (w *Writer) Subject(a *models.ScoredAlert) string {
	sev := string(a.Alert.Severity)
	if sev == "" {
		sev = "unknown"
	}
	return w.prefix + "." + sev
}

// WriteAlerts publishes a batch and waits for the server to acknowledge it.
func (w *Writer) WriteAlerts(alerts []*models.ScoredAlert) error {
	published := 0
	for _, a := range alerts {
		if a == nil || a.Alert == nil {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal scored alert: %w", err)
		}
		if err := w.conn.Publish(w.Subject(a), data); err != nil {
			return fmt.Errorf("publish scored alert %s: %w", a.Alert.AlertID, err)
		}
		published++
	}
	if published == 0 {
		return nil
	}
	if err := w.conn.FlushTimeout(w.flushTimeout); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close drains the connection.
func (w *Writer) Close() error {
	return w.conn.Drain()
}
