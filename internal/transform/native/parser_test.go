package native

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

func TestParseNativeAlert(t *testing.T) {
	p, err := NewParser()
	require.NoError(t, err)

	alert, err := p.Parse([]byte(`{
		"schema_version": "1",
		"alert_id": "a-42",
		"ts": "2026-03-01T13:00:00+01:00",
		"severity": "HIGH",
		"source": "203.0.113.7:51515",
		"destination": "10.0.0.9:22",
		"rule_id": "5712",
		"description": "ssh brute force",
		"techniques": ["T1110"],
		"features": {"flow_duration": 1200, "Destination Port": 22}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "a-42", alert.AlertID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), alert.Timestamp)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, []string{"T1110"}, alert.Techniques)
	assert.Len(t, alert.Features, 2)
}

func TestParsePositionalFeatures(t *testing.T) {
	p, err := NewParser()
	require.NoError(t, err)
	alert, err := p.Parse([]byte(`{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"low","features":[0,1,2]}`))
	require.NoError(t, err)
	assert.Len(t, alert.Features["features"], 3)
	assert.Empty(t, alert.AlertID)
}

func TestParseErrors(t *testing.T) {
	p, err := NewParser()
	require.NoError(t, err)

	_, err = p.Parse([]byte(`{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"urgent"}`))
	assert.True(t, errors.Is(err, models.ErrUnknownSeverity))

	_, err = p.Parse([]byte(`{"schema_version":"0","ts":"2026-03-01T12:00:00Z","severity":"low"}`))
	assert.True(t, errors.Is(err, models.ErrSchemaMismatch))
}
