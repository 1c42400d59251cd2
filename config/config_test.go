package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alertrank.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
alertrank:
  input:
    format: wazuh
    redis:
      key: wazuh_alerts
      block_timeout: 2s
  classifier:
    url: http://classifier:8001
    retries: 2
  retriever:
    url: http://retriever:8002
    min_similarity: 0
    retries: 1
  enricher:
    retries: 3
  scoring:
    weights: {severity: 0.5, confidence: 0.2, recency: 0.2, context: 0.1}
    severity_scale: {low: 0.1, medium: 0.4, high: 0.7, critical: 1}
    half_life: 30m
  output:
    mode: nats
    nats:
      subject_prefix: soc.alerts
  store:
    enabled: true
    redis:
      ttl: 24h
      max_entries: 500
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	ar := cfg.AlertRank
	assert.Equal(t, "wazuh", ar.Input.Format)
	assert.Equal(t, "wazuh_alerts", ar.Input.Redis.Key)
	assert.Equal(t, 2*time.Second, ar.Input.Redis.BlockTimeout)

	assert.Equal(t, 2, ar.Classifier.Retries)
	assert.Equal(t, 1, ar.Retriever.Retries)
	assert.Equal(t, 3, ar.Enricher.Retries)

	require.NotNil(t, ar.Retriever.MinSimilarity)
	assert.Equal(t, 0.0, *ar.Retriever.MinSimilarity)

	require.NotNil(t, ar.Scoring.Weights)
	assert.Equal(t, 0.5, ar.Scoring.Weights.Severity)
	assert.Equal(t, 0.1, ar.Scoring.SeverityScale["low"])
	assert.Equal(t, 30*time.Minute, ar.Scoring.HalfLife)

	assert.Equal(t, "nats", ar.Output.Mode)
	assert.Equal(t, "soc.alerts", ar.Output.NATS.SubjectPrefix)
	assert.True(t, ar.Store.Enabled)
	assert.Equal(t, 24*time.Hour, ar.Store.Redis.TTL)
	assert.Equal(t, int64(500), ar.Store.Redis.MaxEntries)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("alertrank: [unclosed"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
