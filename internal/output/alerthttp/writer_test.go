package alerthttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

func TestWriterPostsEnvelope(t *testing.T) {
	var got envelope
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, MinScore: 50, Headers: map[string]string{"Authorization": "token"}})
	require.NoError(t, err)

	alerts := []*models.ScoredAlert{
		{Alert: &models.Alert{AlertID: "hot"}, Priority: models.PriorityScore{Score: 97.2}},
		{Alert: &models.Alert{AlertID: "cold"}, Priority: models.PriorityScore{Score: 10}},
	}
	require.NoError(t, w.WriteAlerts(alerts))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "hot", got.Alerts[0].Alert.AlertID)

	require.NoError(t, w.WriteAlerts(alerts[1:]))
	assert.Equal(t, 1, calls)
	require.NoError(t, w.Close())
}

func TestWriterReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	err = w.WriteAlerts([]*models.ScoredAlert{{Alert: &models.Alert{AlertID: "a"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
