package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

func TestDecodeAcceptsValidPayload(t *testing.T) {
	v, err := NewAlertValidator()
	require.NoError(t, err)

	doc, err := v.Decode([]byte(`{
		"schema_version": "1",
		"alert_id": "a-1",
		"ts": "2026-03-01T12:00:00Z",
		"severity": "critical",
		"techniques": ["T1110", "t1110.001"],
		"features": {"Flow Duration": 1200}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "a-1", doc["alert_id"])
}

func TestDecodeAcceptsPositionalFeatures(t *testing.T) {
	v, err := NewAlertValidator()
	require.NoError(t, err)
	_, err = v.Decode([]byte(`{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"low","features":[1,2.5,"NaN",null]}`))
	require.NoError(t, err)
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	v, err := NewAlertValidator()
	require.NoError(t, err)

	for name, payload := range map[string]string{
		"wrong version":    `{"schema_version":"2","ts":"2026-03-01T12:00:00Z","severity":"low"}`,
		"missing ts":       `{"schema_version":"1","severity":"low"}`,
		"bad timestamp":    `{"schema_version":"1","ts":"yesterday","severity":"low"}`,
		"bad technique":    `{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"low","techniques":["brute"]}`,
		"features scalar":  `{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"low","features":7}`,
		"misspelled field": `{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"low","descripton":"typo"}`,
		"unknown field":    `{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"low","rule":{"level":3}}`,
		"not an object":    `[1,2,3]`,
		"not json":         `{`,
	} {
		_, err := v.Decode([]byte(payload))
		assert.True(t, errors.Is(err, models.ErrSchemaMismatch), name)
	}
}

func TestUnknownSeverityIsNotASchemaError(t *testing.T) {
	v, err := NewAlertValidator()
	require.NoError(t, err)
	_, err = v.Decode([]byte(`{"schema_version":"1","ts":"2026-03-01T12:00:00Z","severity":"urgent"}`))
	require.NoError(t, err)
}
