package textindex

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// DefaultLimit is used when a search limit is not positive.
const DefaultLimit = 10

// Search performs a BM25 keyword search in space, best first.
func (i *Indexer) Search(space memory.Space, text string, limit int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	index, err := i.index(space)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	searchRequest := bleve.NewSearchRequestOptions(buildMatchQuery(text), limit, 0, false)
	results, err := index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	return convertBleveResults(results), nil
}

// Matching returns the ids of every document in space matching text, up to
// limit. The retrieval coordinator uses it as a keyword predicate.
func (i *Indexer) Matching(space memory.Space, text string, limit int) ([]string, error) {
	hits, err := i.Search(space, text, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for n, hit := range hits {
		ids[n] = hit.ID
	}
	return ids, nil
}

func convertBleveResults(results *bleve.SearchResult) []Hit {
	hits := make([]Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		hits = append(hits, Hit{ID: hit.ID, Score: hit.Score})
	}
	return hits
}
