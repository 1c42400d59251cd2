package pipeline

import (
	"context"
	"sync"
	"time"

	"alertrank/internal/logger"
	"alertrank/internal/scoring"
	"alertrank/pkg/models"
)

// Source yields raw alert payloads. Pop returns nil, nil when nothing
// arrived before its block timeout.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// DeadLetterer parks payloads that could not be scored.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, payload []byte, reason string) error
}

// Requeuer returns a popped payload to the head of the queue.
type Requeuer interface {
	Requeue(ctx context.Context, payload []byte) error
}

// Parser converts a raw payload into an alert.
type Parser interface {
	Parse(data []byte) (*models.Alert, error)
}

// Scorer scores a single alert.
type Scorer interface {
	ScoreAlert(ctx context.Context, alert *models.Alert) (*models.ScoredAlert, error)
}

// Options tunes the worker pool and flush policy.
type Options struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
}

// Stats counts pipeline outcomes. Every received payload ends up Scored,
// Rejected or Requeued; every scored alert ends up Written (it reached all
// writers) or Dropped.
type Stats struct {
	Received  int64
	Scored    int64
	Rejected  int64
	Requeued  int64
	Written   int64
	Dropped   int64
	LastFlush time.Time
}

// RedisTriagePipeline consumes raw alerts, scores them with a worker pool
// and flushes ranked batches to every writer.
type RedisTriagePipeline struct {
	source        Source
	parser        Parser
	scorer        Scorer
	writers       []AlertWriter
	deadLetter    DeadLetterer
	requeuer      Requeuer
	workers       int
	batchSize     int
	flushInterval time.Duration

	mu    sync.Mutex
	stats Stats
}

// NewRedisTriagePipeline creates a continuous scoring pipeline.
func NewRedisTriagePipeline(source Source, parser Parser, scorer Scorer, writers []AlertWriter, opts Options) *RedisTriagePipeline {
	p := &RedisTriagePipeline{
		source:        source,
		parser:        parser,
		scorer:        scorer,
		writers:       writers,
		workers:       opts.Workers,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}
	if dl, ok := source.(DeadLetterer); ok {
		p.deadLetter = dl
	}
	if rq, ok := source.(Requeuer); ok {
		p.requeuer = rq
	}
	return p
}

// Stats returns a snapshot of pipeline counters.
func (p *RedisTriagePipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run starts the pipeline loop and blocks until ctx is cancelled. Scored
// alerts still buffered are flushed before it returns.
func (p *RedisTriagePipeline) Run(ctx context.Context) error {
	logger.Infof("Redis triage pipeline started")

	if p.workers <= 0 {
		p.workers = 8
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	if p.flushInterval <= 0 {
		p.flushInterval = 2 * time.Second
	}

	msgCh := make(chan []byte, p.workers*4)
	workCh := make(chan *models.ScoredAlert, p.workers*4)

	var readers, workers, writer sync.WaitGroup

	readers.Add(1)
	go func() {
		defer readers.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(ctx, msgCh, workCh)
		}()
	}

	writer.Add(1)
	go func() {
		defer writer.Done()
		p.writeLoop(workCh)
	}()

	readers.Wait()
	workers.Wait()
	close(workCh)
	writer.Wait()

	logger.Infof("Redis triage pipeline stopped: %+v", p.Stats())
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *RedisTriagePipeline) Close() error {
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			logger.Errorf("Failed to close alert writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *RedisTriagePipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		p.count(func(s *Stats) { s.Received++ })
		select {
		case out <- payload:
		case <-ctx.Done():
			p.requeue(payload)
			return
		}
	}
}

// workerLoop keeps draining in after ctx ends so that every payload already
// popped is either scored, dead-lettered or put back on the queue.
func (p *RedisTriagePipeline) workerLoop(ctx context.Context, in <-chan []byte, out chan<- *models.ScoredAlert) {
	for payload := range in {
		if ctx.Err() != nil {
			p.requeue(payload)
			continue
		}
		alert, err := p.parser.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse alert payload: %v", err)
			p.reject(payload, err)
			continue
		}

		scored, err := p.scorer.ScoreAlert(ctx, alert)
		if err != nil {
			if ctx.Err() != nil {
				p.requeue(payload)
				continue
			}
			logger.Warnf("Failed to score alert %s: %v", alert.AlertID, err)
			p.reject(payload, err)
			continue
		}
		p.count(func(s *Stats) { s.Scored++ })
		out <- scored
	}
}

const handoffTimeout = 5 * time.Second

// reject and requeue run on their own context: they must still reach Redis
// while the pipeline is shutting down.
func (p *RedisTriagePipeline) reject(payload []byte, cause error) {
	p.count(func(s *Stats) { s.Rejected++ })
	if p.deadLetter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
	defer cancel()
	if err := p.deadLetter.DeadLetter(ctx, payload, cause.Error()); err != nil {
		logger.Errorf("Failed to dead-letter payload: %v", err)
	}
}

func (p *RedisTriagePipeline) requeue(payload []byte) {
	p.count(func(s *Stats) { s.Requeued++ })
	ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
	defer cancel()
	if p.requeuer != nil {
		err := p.requeuer.Requeue(ctx, payload)
		if err == nil {
			return
		}
		logger.Errorf("Failed to requeue payload: %v", err)
	}
	if p.deadLetter != nil {
		if err := p.deadLetter.DeadLetter(ctx, payload, "pipeline stopped before scoring"); err != nil {
			logger.Errorf("Failed to dead-letter unscored payload: %v", err)
		}
		return
	}
	logger.Errorf("Unscored payload lost on shutdown: no requeue or dead letter target")
}

// writeLoop drains in until it is closed. Writes are retried a bounded
// number of times so that shutdown cannot hang on a dead sink.
func (p *RedisTriagePipeline) writeLoop(in <-chan *models.ScoredAlert) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var batch []*models.ScoredAlert

	flush := func() {
		if len(batch) == 0 {
			return
		}
		scoring.Rank(batch)
		ok := true
		for _, w := range p.writers {
			if !p.writeWithRetry(w, batch) {
				ok = false
			}
		}
		n := int64(len(batch))
		p.count(func(s *Stats) {
			if ok {
				s.Written += n
			} else {
				s.Dropped += n
			}
			s.LastFlush = time.Now()
		})
		batch = nil
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, item)
			if len(batch) >= p.batchSize {
				flush()
			}
		}
	}
}

const maxWriteAttempts = 3

// writeWithRetry reports whether the batch reached w.
func (p *RedisTriagePipeline) writeWithRetry(w AlertWriter, batch []*models.ScoredAlert) bool {
	for attempt := 1; ; attempt++ {
		err := w.WriteAlerts(batch)
		if err == nil {
			return true
		}
		if attempt >= maxWriteAttempts {
			logger.Errorf("Dropping %d scored alerts after %d failed writes: %v", len(batch), attempt, err)
			return false
		}
		logger.Errorf("Failed to write scored alerts (attempt %d): %v", attempt, err)
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
}

func (p *RedisTriagePipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
