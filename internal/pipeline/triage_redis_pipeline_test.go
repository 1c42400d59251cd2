package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrank/pkg/models"
)

type sliceSource struct {
	mu       sync.Mutex
	payloads [][]byte
	dead     []string
	closed   bool
}

func (s *sliceSource) Pop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.payloads) > 0 {
		p := s.payloads[0]
		s.payloads = s.payloads[1:]
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (s *sliceSource) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, string(payload))
	return nil
}

func (s *sliceSource) Requeue(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append([][]byte{payload}, s.payloads...)
	return nil
}

func (s *sliceSource) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// payloads are "<id>:<score>"; "bad" fails to parse, "<id>:-1" fails to score.
type stubParser struct{}

func (stubParser) Parse(data []byte) (*models.Alert, error) {
	s := string(data)
	for i := range s {
		if s[i] == ':' {
			return &models.Alert{AlertID: s[:i], Description: s[i+1:]}, nil
		}
	}
	return nil, models.ErrSchemaMismatch
}

type stubScorer struct{}

func (stubScorer) ScoreAlert(ctx context.Context, a *models.Alert) (*models.ScoredAlert, error) {
	v, err := strconv.ParseFloat(a.Description, 64)
	if err != nil || v < 0 {
		return nil, models.ErrUnknownSeverity
	}
	return &models.ScoredAlert{Alert: a, Priority: models.PriorityScore{AlertID: a.AlertID, Score: v}}, nil
}

// slowScorer takes delay per alert and gives up when ctx ends, like a
// scorer blocked on remote calls.
type slowScorer struct {
	delay time.Duration
}

func (s slowScorer) ScoreAlert(ctx context.Context, a *models.Alert) (*models.ScoredAlert, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return stubScorer{}.ScoreAlert(ctx, a)
}

type memWriter struct {
	mu      sync.Mutex
	batches [][]*models.ScoredAlert
	fail    int
	closed  bool
}

func (w *memWriter) WriteAlerts(alerts []*models.ScoredAlert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail > 0 {
		w.fail--
		return errors.New("sink down")
	}
	w.batches = append(w.batches, append([]*models.ScoredAlert(nil), alerts...))
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func (w *memWriter) ids() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, b := range w.batches {
		for _, a := range b {
			out = append(out, a.Alert.AlertID)
		}
	}
	return out
}

func TestPipelineScoresRanksAndDeadLetters(t *testing.T) {
	src := &sliceSource{payloads: [][]byte{
		[]byte("A:10"), []byte("bad"), []byte("B:50"), []byte("C:90"), []byte("D:-1"),
	}}
	w := &memWriter{}
	p := NewRedisTriagePipeline(src, stubParser{}, stubScorer{}, []AlertWriter{w}, Options{
		Workers:       1,
		BatchSize:     3,
		FlushInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.Written == 3 && st.Rejected == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"C", "B", "A"}, w.ids())
	assert.Len(t, src.dead, 2)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.True(t, src.closed)
}

func TestPipelineFlushesOnShutdownAndRetriesWrites(t *testing.T) {
	src := &sliceSource{payloads: [][]byte{[]byte("A:10"), []byte("B:20")}}
	w := &memWriter{fail: 1}
	p := NewRedisTriagePipeline(src, stubParser{}, stubScorer{}, []AlertWriter{w}, Options{
		Workers:       2,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Stats().Scored == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"B", "A"}, w.ids())
	assert.Equal(t, int64(2), p.Stats().Written)
	assert.Equal(t, int64(0), p.Stats().Dropped)
}

func TestPipelineCancelMidStreamLosesNothing(t *testing.T) {
	for name, stop := range map[string]func() (context.Context, context.CancelFunc){
		"cancel": func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(80*time.Millisecond, cancel)
			return ctx, cancel
		},
		"deadline": func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 80*time.Millisecond)
		},
	} {
		t.Run(name, func(t *testing.T) {
			src := &sliceSource{}
			for i := 0; i < 20; i++ {
				src.payloads = append(src.payloads, []byte("A"+strconv.Itoa(i)+":10"))
			}
			w := &memWriter{}
			p := NewRedisTriagePipeline(src, stubParser{}, slowScorer{delay: 50 * time.Millisecond}, []AlertWriter{w}, Options{
				Workers:       2,
				BatchSize:     100,
				FlushInterval: time.Hour,
			})

			ctx, cancel := stop()
			defer cancel()
			p.Run(ctx)

			st := p.Stats()
			assert.Equal(t, st.Received, st.Scored+st.Rejected+st.Requeued)
			assert.Zero(t, st.Rejected)
			assert.Empty(t, src.dead)
			assert.Positive(t, st.Requeued)
			assert.Equal(t, 20, src.pending()+len(w.ids()))
			assert.Equal(t, st.Scored, st.Written)
		})
	}
}

func TestPipelineCountsDroppedBatchOnce(t *testing.T) {
	src := &sliceSource{payloads: [][]byte{[]byte("A:10"), []byte("B:20"), []byte("C:30")}}
	w := &memWriter{fail: maxWriteAttempts}
	p := NewRedisTriagePipeline(src, stubParser{}, stubScorer{}, []AlertWriter{w}, Options{
		Workers:       1,
		BatchSize:     3,
		FlushInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Stats().Dropped > 0 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	st := p.Stats()
	assert.Equal(t, int64(3), st.Scored)
	assert.Equal(t, int64(0), st.Written)
	assert.Equal(t, int64(3), st.Dropped)
	assert.Empty(t, w.ids())
}

func TestPipelineDeadLettersOnShutdownWithoutRequeue(t *testing.T) {
	inner := &sliceSource{}
	p := NewRedisTriagePipeline(deadOnlySource{inner}, stubParser{}, stubScorer{}, nil, Options{Workers: 1})
	p.requeue([]byte("A:10"))

	assert.Equal(t, int64(1), p.Stats().Requeued)
	assert.Equal(t, []string{"A:10"}, inner.dead)
	assert.Zero(t, inner.pending())
}

// deadOnlySource can dead-letter but not requeue.
type deadOnlySource struct {
	s *sliceSource
}

func (d deadOnlySource) Pop(ctx context.Context) ([]byte, error) { return d.s.Pop(ctx) }
func (d deadOnlySource) Close() error                            { return d.s.Close() }
func (d deadOnlySource) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	return d.s.DeadLetter(ctx, payload, reason)
}
