/*
Package textindex implements BM25 keyword search over the text of sessions,
events and patterns.

Each vector space gets its own Bleve index. Like the vector index it is a
derived structure: it is filled from storage at startup and kept current by
the enrichment workers. Keyword queries act as a structural predicate for the
retrieval coordinator, and can optionally be fused with similarity scores.
*/
package textindex

// Hit is a single keyword match with its BM25 score.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Document is the indexed text of one entity.
type Document struct {
	ID   string
	Text string
}
