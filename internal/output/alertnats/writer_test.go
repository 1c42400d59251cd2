package alertnats

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

type recorder struct {
	subjects []string
	payloads [][]byte
	flushes  int
	drained  bool
	err      error
}

func (r *recorder) Publish(subject string, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func (r *recorder) FlushTimeout(time.Duration) error {
	r.flushes++
	return nil
}

func (r *recorder) Drain() error {
	r.drained = true
	return nil
}

func TestWriterPublishesPerSeverity(t *testing.T) {
	rec := &recorder{}
	w := newWriter(rec, Config{SubjectPrefix: "soc.alerts."})

	err := w.WriteAlerts([]*models.ScoredAlert{
		{Alert: &models.Alert{AlertID: "a", Severity: models.SeverityCritical}, Priority: models.PriorityScore{Score: 97.2}},
		{Alert: &models.Alert{AlertID: "b", Severity: models.SeverityLow}},
		nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"soc.alerts.critical", "soc.alerts.low"}, rec.subjects)
	assert.Equal(t, 1, rec.flushes)

	var decoded models.ScoredAlert
	require.NoError(t, json.Unmarshal(rec.payloads[0], &decoded))
	assert.Equal(t, 97.2, decoded.Priority.Score)

	require.NoError(t, w.WriteAlerts(nil))
	assert.Equal(t, 1, rec.flushes)

	require.NoError(t, w.Close())
	assert.True(t, rec.drained)
}

func TestWriterPublishError(t *testing.T) {
	rec := &recorder{err: errors.New("nats: connection closed")}
	w := newWriter(rec, Config{})
	err := w.WriteAlerts([]*models.ScoredAlert{{Alert: &models.Alert{AlertID: "a"}}})
	require.Error(t, err)
	assert.Equal(t, "alertrank.scored.unknown", w.Subject(&models.ScoredAlert{Alert: &models.Alert{}}))
}
