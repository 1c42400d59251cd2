package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, zerolog.WarnLevel)

	Infof("scored alert %s", "a-1")
	assert.Empty(t, buf.String())

	Warnf("classifier degraded for %s", "a-2")
	assert.Contains(t, buf.String(), "classifier degraded for a-2")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "alertrank.log")
	require.NoError(t, Init(true, "info", path, false))
	Infof("hello")
	assert.FileExists(t, path)
}

func TestInitDisabled(t *testing.T) {
	require.NoError(t, Init(false, "debug", "", true))
	Errorf("dropped")
}
