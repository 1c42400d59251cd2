package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

const (
	nativePayload = `{"schema_version":"1","alert_id":"n-1","ts":"2026-03-01T12:00:00Z","severity":"medium"}`
	wazuhPayload  = `{"id":"w-1","timestamp":"2026-03-01T12:00:00.000+0000","rule":{"level":12,"id":"100100"}}`
)

func TestAutoDetect(t *testing.T) {
	p, err := NewParser("")
	require.NoError(t, err)

	a, err := p.Parse([]byte(nativePayload))
	require.NoError(t, err)
	assert.Equal(t, "n-1", a.AlertID)
	assert.Equal(t, models.SeverityMedium, a.Severity)

	a, err = p.Parse([]byte(wazuhPayload))
	require.NoError(t, err)
	assert.Equal(t, "w-1", a.AlertID)
	assert.Equal(t, models.SeverityCritical, a.Severity)

	_, err = p.Parse([]byte(`{"hello":"world"}`))
	assert.True(t, errors.Is(err, models.ErrSchemaMismatch))
}

func TestFixedFormat(t *testing.T) {
	p, err := NewParser("wazuh")
	require.NoError(t, err)
	_, err = p.Parse([]byte(nativePayload))
	assert.True(t, errors.Is(err, models.ErrSchemaMismatch))

	_, err = NewParser("cef")
	assert.Error(t, err)
}
