/*
Package enrichment keeps the derived search structures current.

Primary writes submit a Job naming the entity that changed. Background workers
load it from storage, refresh its keyword entry, embed its text and upsert the
vector into storage and the vector index. Submitting never blocks: when the
bounded queue is full the job is dropped with a warning, and the entity is
picked up later by Backfill.
*/
package enrichment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/embedding"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/metrics"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
)

const (
	// DefaultQueueSize is the buffer size for the job queue.
	// If full, jobs are dropped (non-blocking).
	DefaultQueueSize = 1000

	// DefaultWorkers is the number of background workers.
	DefaultWorkers = 4

	// DefaultJobTimeout bounds one embed-and-upsert round trip.
	DefaultJobTimeout = 30 * time.Second
)

// Job names one entity whose derived data must be refreshed.
type Job struct {
	Space memory.Space
	ID    string
}

// KeywordIndex receives entity text for keyword search.
type KeywordIndex interface {
	Index(space memory.Space, id, text string) error
	Delete(space memory.Space, ids ...string) error
}

// Deps are the collaborators of the pipeline. Keywords and Metrics are optional.
type Deps struct {
	Store    storage.Storage
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Keywords KeywordIndex
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Config sizes the pipeline.
type Config struct {
	QueueSize  int
	Workers    int
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

// Pipeline processes enrichment jobs in the background.
type Pipeline struct {
	deps     Deps
	cfg      Config
	logger   *slog.Logger
	queue    chan Job
	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex // guards stopped against Submit
	stopped  bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
	dropped  atomic.Int64
}

// New creates a pipeline and starts its workers.
func New(deps Deps, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With("component", "enrichment"),
		queue:    make(chan Job, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues a job without blocking. It reports false when the queue was
// full and the job was dropped.
func (p *Pipeline) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	select {
	case p.queue <- job:
		p.deps.Metrics.QueueDepth(len(p.queue))
		return true
	default:
		p.dropped.Add(1)
		p.deps.Metrics.EnrichmentDropped(string(job.Space))
		p.logger.Warn("enrichment queue full, dropping job", "space", job.Space, "id", job.ID)
		return false
	}
}

// Stop gracefully shuts down the workers after draining queued jobs. Every
// job Submit accepted before Stop is processed; later submits are refused.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.stopChan)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// Pending returns the number of queued and running jobs.
func (p *Pipeline) Pending() int {
	return len(p.queue) + int(p.inFlight.Load())
}

// Dropped returns how many jobs were dropped since start.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.queue:
			p.run(job)

		case <-p.stopChan:
			// Drain remaining jobs, then exit.
			for {
				select {
				case job := <-p.queue:
					p.run(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) run(job Job) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.deps.Metrics.QueueDepth(len(p.queue))

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	// Failures are recovered here; Backfill retries anything left unembedded.
	if err := p.Process(ctx, job); err != nil {
		p.logger.Warn("enrichment failed", "space", job.Space, "id", job.ID, "kind", memory.KindOf(err), "error", err)
	}
}

// Process refreshes one entity synchronously.
func (p *Pipeline) Process(ctx context.Context, job Job) error {
	outcome, err := p.process(ctx, job)
	p.deps.Metrics.EnrichmentJob(string(job.Space), outcome)
	return err
}

// Job outcomes, also used as metric labels.
const (
	outcomeEmbedded = "embedded"
	outcomeSkipped  = "skipped"
	outcomeDeleted  = "deleted"
	outcomeFailed   = "failed"
)

func (p *Pipeline) process(ctx context.Context, job Job) (string, error) {
	text, err := p.loadText(ctx, job)
	if memory.IsKind(err, memory.KindNotFound) {
		// Deleted since the job was queued.
		p.forget(ctx, job)
		return outcomeDeleted, nil
	}
	if err != nil {
		return outcomeFailed, err
	}

	if p.deps.Keywords != nil && text != "" {
		if err := p.deps.Keywords.Index(job.Space, job.ID, text); err != nil {
			p.logger.Warn("keyword indexing failed", "space", job.Space, "id", job.ID, "error", err)
		}
	}

	if embedding.Normalize(text) == "" {
		return outcomeSkipped, nil
	}

	start := time.Now()
	vec, err := p.deps.Embedder.Embed(ctx, text)
	p.deps.Metrics.EmbedLatency(time.Since(start))
	if err != nil {
		return outcomeFailed, err
	}

	model := p.deps.Embedder.Model()
	if err := p.deps.Store.SaveEmbedding(ctx, memory.EmbeddingRecord{
		EntityID:  job.ID,
		Space:     job.Space,
		Model:     model,
		Vector:    vec,
		UpdatedAt: time.Now(),
	}); err != nil {
		return outcomeFailed, memory.Internal(err)
	}

	if err := p.deps.Index.Upsert(ctx, job.Space, job.ID, vec, model); err != nil {
		return outcomeFailed, memory.IndexUnavailable(err)
	}
	return outcomeEmbedded, nil
}

func (p *Pipeline) loadText(ctx context.Context, job Job) (string, error) {
	switch job.Space {
	case memory.SpaceSessions:
		s, err := p.deps.Store.GetSession(ctx, job.ID)
		if err != nil {
			return "", err
		}
		return memory.SessionText(s), nil
	case memory.SpaceEvents:
		e, err := p.deps.Store.GetEvent(ctx, job.ID)
		if err != nil {
			return "", err
		}
		return memory.EventText(e), nil
	case memory.SpacePatterns:
		pat, err := p.deps.Store.GetPattern(ctx, job.ID)
		if err != nil {
			return "", err
		}
		return memory.PatternText(pat), nil
	}
	return "", errors.Errorf("unknown space %q", job.Space)
}

// Forget removes an entity from the derived indexes.
func (p *Pipeline) Forget(ctx context.Context, space memory.Space, ids ...string) {
	for _, id := range ids {
		p.forget(ctx, Job{Space: space, ID: id})
	}
}

func (p *Pipeline) forget(ctx context.Context, job Job) {
	if err := p.deps.Index.Delete(ctx, job.Space, job.ID); err != nil {
		p.logger.Warn("vector delete failed", "space", job.Space, "id", job.ID, "error", err)
	}
	if p.deps.Keywords != nil {
		if err := p.deps.Keywords.Delete(job.Space, job.ID); err != nil {
			p.logger.Warn("keyword delete failed", "space", job.Space, "id", job.ID, "error", err)
		}
	}
}
