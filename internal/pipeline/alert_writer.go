package pipeline

import "alertrank/pkg/models"

// AlertWriter writes scored alerts to a sink.
type AlertWriter interface {
	WriteAlerts(alerts []*models.ScoredAlert) error
	Close() error
}
