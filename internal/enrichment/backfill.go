package enrichment

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
)

// BackfillOptions controls a backfill pass.
type BackfillOptions struct {
	// Spaces to backfill; all spaces when empty.
	Spaces []memory.Space

	// BatchSize is how many missing entities are fetched per round.
	BatchSize int

	// Concurrency caps parallel embedding calls.
	Concurrency int
}

// BackfillStats counts the outcome of a backfill pass in one space.
type BackfillStats struct {
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// Backfill embeds every entity that has no vector from the current model,
// including records written while the embedder was down or whose jobs were
// dropped. Each round continues after the last id of the previous one, so
// entities that keep failing never hide older ones. A pass attempts every
// missing entity once.
func (p *Pipeline) Backfill(ctx context.Context, opts BackfillOptions) (map[memory.Space]*BackfillStats, error) {
	spaces := opts.Spaces
	if len(spaces) == 0 {
		spaces = memory.Spaces
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = p.cfg.Workers
	}

	model := p.deps.Embedder.Model()
	report := make(map[memory.Space]*BackfillStats)
	for _, space := range spaces {
		stats := &BackfillStats{}
		report[space] = stats

		var cursor storage.MissingCursor
		for {
			ids, next, err := p.deps.Store.MissingEmbeddings(ctx, space, model, cursor, opts.BatchSize)
			if err != nil {
				return report, err
			}
			cursor = next
			if len(ids) == 0 {
				break
			}

			var embedded, failed atomic.Int64
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(opts.Concurrency)
			for _, id := range ids {
				id := id
				g.Go(func() error {
					jobCtx, cancel := context.WithTimeout(gctx, p.cfg.JobTimeout)
					defer cancel()
					outcome, err := p.process(jobCtx, Job{Space: space, ID: id})
					p.deps.Metrics.EnrichmentJob(string(space), outcome)
					switch {
					case memory.IsKind(err, memory.KindInternal):
						return err
					case outcome == outcomeEmbedded:
						embedded.Add(1)
					default:
						failed.Add(1)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return report, err
			}

			stats.Embedded += int(embedded.Load())
			stats.Failed += int(failed.Load())
			p.logger.Info("backfill round", "space", space, "embedded", embedded.Load(), "failed", failed.Load())
		}
	}
	return report, nil
}

// RunBackfill runs Backfill every interval until ctx is cancelled.
func (p *Pipeline) RunBackfill(ctx context.Context, interval time.Duration, opts BackfillOptions) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Backfill(ctx, opts); err != nil && ctx.Err() == nil {
				p.logger.Error("periodic backfill failed", "error", err)
			}
		}
	}
}
