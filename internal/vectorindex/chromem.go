package vectorindex

import (
	"context"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// Chromem stores each space in its own chromem-go collection. chromem-go
// scans exhaustively, so queries are always exact.
type Chromem struct {
	db    *chromem.DB
	mu    sync.Mutex
	cols  map[memory.Space]*chromem.Collection
	dims  map[memory.Space]int
	guard modelGuard
}

var _ Index = (*Chromem)(nil)

// NewChromem creates an in-memory chromem-go index.
func NewChromem() *Chromem {
	return &Chromem{
		db:   chromem.NewDB(),
		cols: make(map[memory.Space]*chromem.Collection),
		dims: make(map[memory.Space]int),
	}
}

func (c *Chromem) collection(space memory.Space) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.cols[space]; ok {
		return col, nil
	}
	// Vectors are always supplied, so no embedding func is needed.
	col, err := c.db.GetOrCreateCollection(string(space), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create collection")
	}
	c.cols[space] = col
	return col, nil
}

func (c *Chromem) Upsert(ctx context.Context, space memory.Space, id string, vec []float32, model string) error {
	if !space.Valid() {
		return memory.Validation("space", "unknown vector space %q", space)
	}
	col, err := c.collection(space)
	if err != nil {
		return err
	}

	c.mu.Lock()
	empty := col.Count() == 0
	if err := c.guard.check(space, model, empty); err != nil {
		c.mu.Unlock()
		return err
	}
	if empty {
		c.dims[space] = 0
	}
	norm, err := validateVector(vec, c.dims[space])
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.dims[space] = len(norm)
	c.mu.Unlock()

	err = col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: norm,
		Metadata:  map[string]string{"model": model},
		Content:   id,
	})
	return errors.Wrap(err, "add document")
}

func (c *Chromem) Query(ctx context.Context, space memory.Space, vec []float32, opts QueryOptions) ([]Match, error) {
	col, err := c.collection(space)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return []Match{}, nil
	}

	c.mu.Lock()
	dims := c.dims[space]
	c.mu.Unlock()
	query, err := validateVector(vec, dims)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size.
	limit := limitOf(opts)
	if limit > n {
		limit = n
	}
	results, err := col.QueryEmbedding(ctx, query, limit, nil, nil)
	if err != nil {
		if ctx.Err() != nil {
			return []Match{}, ErrPartial
		}
		return nil, errors.Wrap(err, "chromem query")
	}

	c2 := newCollector(opts)
	for _, r := range results {
		c2.offer(r.ID, clamp(float64(r.Similarity)))
	}
	return c2.results(), nil
}

func (c *Chromem) Delete(ctx context.Context, space memory.Space, id string) error {
	col, err := c.collection(space)
	if err != nil {
		return err
	}
	return errors.Wrap(col.Delete(ctx, nil, nil, id), "delete document")
}

func (c *Chromem) Len(space memory.Space) int {
	col, err := c.collection(space)
	if err != nil {
		return 0
	}
	return col.Count()
}
