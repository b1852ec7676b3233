package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

// Cached memoizes another Embedder in a ristretto cache keyed by model and
// normalized text. Backfill and repeated queries hit the cache instead of the
// upstream model.
type Cached struct {
	next  Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*Cached)(nil)

// NewCached wraps next with a cache holding roughly maxEntries vectors.
func NewCached(next Embedder, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,

		// Cost is counted in entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding cache")
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	norm, err := prepare(text)
	if err != nil {
		return nil, err
	}

	key := c.next.Model() + "\x00" + norm
	if v, ok := c.cache.Get(key); ok {
		return copyVector(v.([]float32)), nil
	}

	vec, err := c.next.Embed(ctx, norm)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, copyVector(vec), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}

func (c *Cached) Model() string   { return c.next.Model() }
func (c *Cached) Dimensions() int { return c.next.Dimensions() }

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
