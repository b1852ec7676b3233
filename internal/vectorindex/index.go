/*
Package vectorindex provides nearest-neighbour search over entity vectors,
partitioned into named spaces (sessions, events, patterns) that are never
compared with each other.

The index is a derived cache over storage: it can always be rebuilt from the
embeddings table with Rebuild. Implementations:

  - Flat: exact brute-force cosine search.
  - IVF: inverted-file index over k-means clusters, with exact fallback.
  - Chromem: chromem-go collections, one per space.
  - PGVector: PostgreSQL pgvector cosine distance over the embeddings table.
*/
package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// DefaultLimit is used when QueryOptions.Limit is not positive.
const DefaultLimit = 10

// similarityEpsilon absorbs float32 rounding so an identical vector still
// clears a 1.0 threshold.
const similarityEpsilon = 1e-6

// ErrPartial is returned with the matches ranked so far when the query
// context expires before the scan completes.
var ErrPartial = errors.New("vector query interrupted; results are partial")

// ErrModelMismatch is returned when a vector from a different model is
// upserted into a space that already holds vectors.
var ErrModelMismatch = errors.New("vector model does not match the space")

// Match is one query result.
type Match struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// QueryOptions controls a similarity query.
type QueryOptions struct {
	// Limit caps the number of matches.
	Limit int

	// MinSimilarity drops matches whose cosine similarity is lower.
	MinSimilarity float64

	// Exact forces a brute-force scan on approximate indexes.
	Exact bool
}

// Index is a nearest-neighbour index over spaces of vectors.
type Index interface {
	// Upsert stores or replaces the vector of id in space. model tags the
	// vector space; mixing models in one space is refused.
	Upsert(ctx context.Context, space memory.Space, id string, vec []float32, model string) error

	// Query returns at most opts.Limit matches with similarity at least
	// opts.MinSimilarity, best first. No match is an empty result, not an error.
	Query(ctx context.Context, space memory.Space, vec []float32, opts QueryOptions) ([]Match, error)

	// Delete removes id from space. Unknown ids are ignored.
	Delete(ctx context.Context, space memory.Space, id string) error

	// Len returns the number of vectors in space.
	Len(space memory.Space) int
}

// normalize returns a unit-length copy of v, or nil for a zero vector.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return nil
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return clamp(sum)
}

func clamp(sim float64) float64 {
	switch {
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

func validateVector(vec []float32, dims int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, memory.Validation("vector", "vector is empty")
	}
	if dims > 0 && len(vec) != dims {
		return nil, memory.Validation("vector", "vector has %d dimensions, space holds %d", len(vec), dims)
	}
	norm := normalize(vec)
	if norm == nil {
		return nil, memory.Validation("vector", "vector has zero length")
	}
	return norm, nil
}

func limitOf(opts QueryOptions) int {
	if opts.Limit <= 0 {
		return DefaultLimit
	}
	return opts.Limit
}

// collector keeps the best limit matches above a threshold in a min-heap.
type collector struct {
	limit int
	min   float64
	h     matchHeap
}

func newCollector(opts QueryOptions) *collector {
	return &collector{limit: limitOf(opts), min: opts.MinSimilarity - similarityEpsilon}
}

func (c *collector) offer(id string, sim float64) {
	if sim < c.min {
		return
	}
	if len(c.h) < c.limit {
		heap.Push(&c.h, Match{ID: id, Similarity: sim})
		return
	}
	if less(c.h[0], Match{ID: id, Similarity: sim}) {
		c.h[0] = Match{ID: id, Similarity: sim}
		heap.Fix(&c.h, 0)
	}
}

// results returns the collected matches, best first.
func (c *collector) results() []Match {
	out := make([]Match, len(c.h))
	copy(out, c.h)
	sort.Slice(out, func(i, j int) bool { return less(out[j], out[i]) })
	return out
}

// less orders matches by similarity, then by descending id so that the
// final ascending-id tie-break is stable.
func less(a, b Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	return a.ID > b.ID
}

type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// modelGuard remembers which model tagged each space.
type modelGuard struct {
	mu     sync.Mutex
	models map[memory.Space]string
}

func (g *modelGuard) check(space memory.Space, model string, empty bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.models == nil {
		g.models = make(map[memory.Space]string)
	}
	current, ok := g.models[space]
	if !ok || empty {
		g.models[space] = model
		return nil
	}
	if current != model {
		return errors.Wrap(ErrModelMismatch, fmt.Sprintf("space %s holds %q, got %q", space, current, model))
	}
	return nil
}

func (g *modelGuard) model(space memory.Space) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.models[space]
}

// ctxCheckEvery is how many vectors are scanned between context checks.
const ctxCheckEvery = 256
