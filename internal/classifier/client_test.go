package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

type fakeService struct {
	mu     sync.Mutex
	seen   []string
	handle func(w http.ResponseWriter, model string)
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		w.Write([]byte(`{"status":"healthy","models_loaded":["random_forest"]}`))
	case "/predict":
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Features) != 78 {
			http.Error(w, "expected 78 features", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.seen = append(f.seen, req.ModelName)
		f.mu.Unlock()
		f.handle(w, req.ModelName)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, h http.Handler, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestClassifyAttack(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		w.Write([]byte(`{"prediction":"ATTACK","confidence":0.99,"probabilities":{"ATTACK":0.99,"BENIGN":0.01},"model_used":"random_forest","inference_time_ms":1.8}`))
	}}
	c := newTestClient(t, svc, Config{})

	res, err := c.Classify(context.Background(), "a-1", make([]float64, 78))
	require.NoError(t, err)
	assert.Equal(t, "a-1", res.AlertID)
	assert.Equal(t, models.LabelAttack, res.Label)
	assert.Equal(t, 0.99, res.Confidence)
	assert.Equal(t, "random_forest", res.ModelUsed)
	assert.Equal(t, []string{"random_forest"}, svc.seen)
}

func TestClassifyFallsBackOnUnavailableModel(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		if model == "random_forest" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"prediction":"PortScan","confidence":0.8}`))
	}}
	c := newTestClient(t, svc, Config{})

	res, err := c.Classify(context.Background(), "a-2", make([]float64, 78))
	require.NoError(t, err)
	assert.Equal(t, models.LabelPortScan, res.Label)
	assert.Equal(t, "xgboost", res.ModelUsed)
	assert.Equal(t, []string{"random_forest", "xgboost"}, svc.seen)
}

func TestClassifyRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"prediction":"BENIGN","confidence":0.9}`))
	}}
	c := newTestClient(t, svc, Config{Retries: 1})

	res, err := c.Classify(context.Background(), "a-9", make([]float64, 78))
	require.NoError(t, err)
	assert.Equal(t, models.LabelBenign, res.Label)
	assert.Equal(t, []string{"random_forest", "random_forest"}, svc.seen)
}

func TestClassifyAllModelsUnavailable(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	c := newTestClient(t, svc, Config{})

	_, err := c.Classify(context.Background(), "a-3", make([]float64, 78))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrClassificationUnavailable))
	assert.Equal(t, DefaultModels, svc.seen)
}

func TestClassifyUnknownLabelIsNotRetried(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		w.Write([]byte(`{"prediction":"MAYBE","confidence":0.5}`))
	}}
	c := newTestClient(t, svc, Config{})

	_, err := c.Classify(context.Background(), "a-4", make([]float64, 78))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnknownLabel))
	assert.False(t, errors.Is(err, models.ErrClassificationUnavailable))
	assert.Len(t, svc.seen, 1)
}

func TestClassifyRejectsLabelVariant(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		w.Write([]byte(`{"prediction":"Port-Scan","confidence":0.9}`))
	}}
	c := newTestClient(t, svc, Config{})

	_, err := c.Classify(context.Background(), "a-5", make([]float64, 78))
	assert.ErrorIs(t, err, models.ErrUnknownLabel)
}

func TestClassifyRejectsConfidenceOutOfRange(t *testing.T) {
	for _, body := range []string{
		`{"prediction":"ATTACK","confidence":1.7}`,
		`{"prediction":"ATTACK","confidence":-0.1}`,
		`{"prediction":"ATTACK"}`,
	} {
		svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
			w.Write([]byte(body))
		}}
		c := newTestClient(t, svc, Config{})
		_, err := c.Classify(context.Background(), "a-5", make([]float64, 78))
		assert.True(t, errors.Is(err, models.ErrUnknownLabel), body)
	}
}

func TestClassifyTimeout(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, model string) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"prediction":"ATTACK","confidence":0.9}`))
	}}
	c := newTestClient(t, svc, Config{Timeout: 20 * time.Millisecond, Models: []string{"random_forest"}})

	start := time.Now()
	_, err := c.Classify(context.Background(), "a-6", make([]float64, 78))
	assert.True(t, errors.Is(err, models.ErrClassificationUnavailable))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, &fakeService{}, Config{})
	require.NoError(t, c.Health(context.Background()))

	down := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"unhealthy"}`))
	}), Config{})
	assert.True(t, errors.Is(down.Health(context.Background()), models.ErrClassificationUnavailable))
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
