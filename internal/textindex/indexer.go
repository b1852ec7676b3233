package textindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// Indexer manages one Bleve index per space.
type Indexer struct {
	mu      sync.RWMutex
	indexes map[memory.Space]bleve.Index
	dir     string
}

// NewIndexer creates in-memory indexes for every space.
func NewIndexer() (*Indexer, error) {
	return open("", func(memory.Space) (bleve.Index, error) {
		return bleve.NewMemOnly(buildIndexMapping())
	})
}

// NewIndexerWithPath creates or opens persistent indexes under dir, one
// subdirectory per space.
func NewIndexerWithPath(dir string) (*Indexer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return open(dir, func(space memory.Space) (bleve.Index, error) {
		path := filepath.Join(dir, string(space)+".bleve")
		index, err := bleve.NewUsing(path, buildIndexMapping(), scorch.Name, scorch.Name, nil)
		if err != nil {
			// If index exists, open it
			index, err = bleve.Open(path)
		}
		return index, err
	})
}

func open(dir string, create func(memory.Space) (bleve.Index, error)) (*Indexer, error) {
	i := &Indexer{indexes: make(map[memory.Space]bleve.Index), dir: dir}
	for _, space := range memory.Spaces {
		index, err := create(space)
		if err != nil {
			i.Close()
			return nil, fmt.Errorf("failed to open %s index: %w", space, err)
		}
		i.indexes[space] = index
	}
	return i, nil
}

// buildIndexMapping indexes a single analyzed "text" field.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("text", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

func (i *Indexer) index(space memory.Space) (bleve.Index, error) {
	index, ok := i.indexes[space]
	if !ok {
		return nil, memory.Validation("space", "unknown space %q", space)
	}
	return index, nil
}

// Index adds or replaces the text of one entity.
func (i *Indexer) Index(space memory.Space, id, text string) error {
	return i.IndexBatch(space, []Document{{ID: id, Text: text}})
}

// IndexBatch adds or replaces many documents in one batch.
func (i *Indexer) IndexBatch(space memory.Space, docs []Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	index, err := i.index(space)
	if err != nil {
		return err
	}

	batch := index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, map[string]any{"text": doc.Text}); err != nil {
			return fmt.Errorf("failed to index %s %s: %w", space, doc.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return fmt.Errorf("failed to batch index %s: %w", space, err)
	}
	return nil
}

// Delete removes documents. Unknown ids are ignored.
func (i *Indexer) Delete(space memory.Space, ids ...string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	index, err := i.index(space)
	if err != nil {
		return err
	}

	batch := index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := index.Batch(batch); err != nil {
		return fmt.Errorf("failed to batch delete: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents in space.
func (i *Indexer) Count(space memory.Space) (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	index, err := i.index(space)
	if err != nil {
		return 0, err
	}
	docCount, err := index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get doc count: %w", err)
	}
	return docCount, nil
}

// Close closes every index.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var firstErr error
	for space, index := range i.indexes {
		if err := index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(i.indexes, space)
	}
	return firstErr
}

// buildMatchQuery creates a match query for BM25 search.
func buildMatchQuery(text string) query.Query {
	q := bleve.NewMatchQuery(text)
	q.SetField("text")
	return q
}
