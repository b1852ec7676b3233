package vectorindex

import (
	"context"
	"sync"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// vectorSet is a dense list of unit vectors with id lookup. Vectors are never
// modified in place; Upsert swaps in a new slice so readers holding the old
// one see a whole vector.
type vectorSet struct {
	ids  []string
	vecs [][]float32
	pos  map[string]int
	dims int
}

func newVectorSet() *vectorSet {
	return &vectorSet{pos: make(map[string]int)}
}

func (s *vectorSet) put(id string, vec []float32) {
	if i, ok := s.pos[id]; ok {
		s.vecs[i] = vec
		return
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
	s.vecs = append(s.vecs, vec)
	s.dims = len(vec)
}

func (s *vectorSet) remove(id string) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	last := len(s.ids) - 1
	if i != last {
		s.ids[i] = s.ids[last]
		s.vecs[i] = s.vecs[last]
		s.pos[s.ids[i]] = i
	}
	s.ids = s.ids[:last]
	s.vecs = s.vecs[:last]
	delete(s.pos, id)
	if len(s.ids) == 0 {
		s.dims = 0
	}
	return true
}

func (s *vectorSet) get(id string) []float32 {
	if i, ok := s.pos[id]; ok {
		return s.vecs[i]
	}
	return nil
}

func (s *vectorSet) len() int {
	return len(s.ids)
}

// scan offers every vector to c. It stops early with ErrPartial when ctx ends.
func (s *vectorSet) scan(ctx context.Context, query []float32, c *collector) error {
	for i, vec := range s.vecs {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return ErrPartial
		}
		c.offer(s.ids[i], dot(query, vec))
	}
	return nil
}

// Flat is an exact index: every query scans the whole space.
type Flat struct {
	mu     sync.RWMutex
	spaces map[memory.Space]*vectorSet
	guard  modelGuard
}

var _ Index = (*Flat)(nil)

// NewFlat creates an empty exact index.
func NewFlat() *Flat {
	return &Flat{spaces: make(map[memory.Space]*vectorSet)}
}

func (f *Flat) Upsert(ctx context.Context, space memory.Space, id string, vec []float32, model string) error {
	if !space.Valid() {
		return memory.Validation("space", "unknown vector space %q", space)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.spaces[space]
	if set == nil {
		set = newVectorSet()
		f.spaces[space] = set
	}
	if err := f.guard.check(space, model, set.len() == 0); err != nil {
		return err
	}
	norm, err := validateVector(vec, set.dims)
	if err != nil {
		return err
	}
	set.put(id, norm)
	return nil
}

func (f *Flat) Query(ctx context.Context, space memory.Space, vec []float32, opts QueryOptions) ([]Match, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	set := f.spaces[space]
	if set == nil || set.len() == 0 {
		return []Match{}, nil
	}
	query, err := validateVector(vec, set.dims)
	if err != nil {
		return nil, err
	}

	c := newCollector(opts)
	err = set.scan(ctx, query, c)
	return c.results(), err
}

func (f *Flat) Delete(ctx context.Context, space memory.Space, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set := f.spaces[space]; set != nil {
		set.remove(id)
	}
	return nil
}

func (f *Flat) Len(space memory.Space) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if set := f.spaces[space]; set != nil {
		return set.len()
	}
	return 0
}
