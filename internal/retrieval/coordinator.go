/*
Package retrieval answers "find relevant past sessions, events or patterns"
queries by combining structural filters with vector similarity.

Filters always run first and are never overridden by similarity: a record
that fails a filter is not returned, however close its vector. When the
embedding model or the vector index fails, results fall back to recency
order with a degraded status instead of an error. When the query deadline
expires mid-scan, whatever was ranked so far comes back with a partial status.
Hybrid ranking only reorders records that cleared the similarity threshold.
*/
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/embedding"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/metrics"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
	"github.com/khanglvm/session-memory-mcp/internal/textindex"
	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
)

// Result limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Defaults for Config.
const (
	DefaultExactThreshold = 2048
	DefaultMaxCandidates  = 10000
	DefaultTimeout        = 5 * time.Second
)

// hydrateTimeout bounds the entity lookup that follows an interrupted scan.
const hydrateTimeout = 2 * time.Second

// Status describes how complete a result is.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusDegraded Status = "degraded"
)

// Keywords is the keyword index used for the keyword predicate and hybrid
// ranking. *textindex.Indexer implements it.
type Keywords interface {
	Search(space memory.Space, text string, limit int) ([]textindex.Hit, error)
	Matching(space memory.Space, text string, limit int) ([]string, error)
}

// Deps are the collaborators of the coordinator. Keywords and Metrics are optional.
type Deps struct {
	Store    storage.Storage
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Keywords Keywords
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Config tunes the coordinator.
type Config struct {
	// ExactThreshold forces an exact scan while a space holds fewer vectors.
	ExactThreshold int

	// MaxCandidates caps the structurally filtered candidate set. A search
	// that hits the cap sees only the newest records and reports StatusPartial.
	MaxCandidates int

	// Timeout applies when the caller's context has no deadline.
	Timeout time.Duration

	Fusion textindex.FusionConfig
}

func (c Config) withDefaults() Config {
	if c.ExactThreshold <= 0 {
		c.ExactThreshold = DefaultExactThreshold
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Fusion == (textindex.FusionConfig{}) {
		c.Fusion = textindex.DefaultFusionConfig
	}
	return c
}

// Request is one retrieval query. Only the filter matching Space is used.
type Request struct {
	Space memory.Space `json:"space"`

	// Text is embedded and compared against the space. Empty means recency order.
	Text string `json:"query,omitempty"`

	// Keyword restricts candidates to records whose text matches it.
	Keyword string `json:"keyword,omitempty"`

	// Hybrid blends BM25 scores of Text into the ranking.
	Hybrid bool `json:"hybrid,omitempty"`

	Sessions memory.SessionFilter `json:"-"`
	Events   memory.EventFilter   `json:"-"`
	Patterns memory.PatternFilter `json:"-"`

	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// Hit is one ranked record. Exactly one of Session, Event and Pattern is set.
type Hit struct {
	ID         string    `json:"id"`
	Similarity float64   `json:"similarity,omitempty"`
	Score      float64   `json:"score,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Session *memory.Session `json:"session,omitempty"`
	Event   *memory.Event   `json:"event,omitempty"`
	Pattern *memory.Pattern `json:"pattern,omitempty"`
}

// Result is the answer to a Request.
type Result struct {
	Space  memory.Space `json:"space"`
	Items  []Hit        `json:"items"`
	Status Status       `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// Coordinator runs retrieval queries.
type Coordinator struct {
	store    storage.Storage
	embedder embedding.Embedder
	index    vectorindex.Index
	keywords Keywords
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
}

// New creates a coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    deps.Store,
		embedder: deps.Embedder,
		index:    deps.Index,
		keywords: deps.Keywords,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "retrieval"),
		cfg:      cfg.withDefaults(),
	}
}

// Search runs req. Errors are returned only for invalid requests and
// storage failures; index and embedding trouble degrade the result instead.
func (c *Coordinator) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	req, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	res, err := c.search(ctx, req)
	status := "error"
	if err == nil {
		status = string(res.Status)
	}
	c.metrics.Query(string(req.Space), status, time.Since(start))
	return res, err
}

func (c *Coordinator) validate(req Request) (Request, error) {
	if !req.Space.Valid() {
		return req, memory.Validation("space", "space must be one of sessions, events, patterns; got %q", req.Space)
	}
	if req.Limit < 0 || req.Limit > MaxLimit {
		return req, memory.Validation("limit", "limit must be between 1 and %d, got %d", MaxLimit, req.Limit)
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if req.MinSimilarity < 0 || req.MinSimilarity > 1 {
		return req, memory.Validation("min_similarity", "min_similarity must be between 0 and 1, got %g", req.MinSimilarity)
	}
	if req.Keyword != "" && c.keywords == nil {
		return req, memory.Validation("keyword", "keyword search is not enabled on this server")
	}
	return req, nil
}

func (c *Coordinator) search(ctx context.Context, req Request) (*Result, error) {
	capped := false
	if req.Keyword != "" {
		matched, err := c.keywords.Matching(req.Space, req.Keyword, c.cfg.MaxCandidates)
		if err != nil {
			return nil, memory.Internal(errors.Wrap(err, "keyword predicate failed"))
		}
		capped = len(matched) >= c.cfg.MaxCandidates
		req = restrict(req, matched)
	}

	if embedding.Normalize(req.Text) == "" {
		if capped {
			return c.recent(ctx, req, StatusPartial, c.capReason())
		}
		return c.recent(ctx, req, StatusComplete, "")
	}

	vec, err := c.embedder.Embed(ctx, req.Text)
	if err != nil {
		if ctx.Err() != nil {
			return timedOut(req.Space), nil
		}
		c.logger.Warn("query embedding failed, falling back to recency", "space", req.Space, "error", err)
		return c.recent(ctx, req, StatusDegraded, degradedReason(err, memory.EmbeddingUnavailable))
	}
	return c.similar(ctx, req, vec, capped)
}

// capReason explains a result computed over a truncated candidate set.
func (c *Coordinator) capReason() string {
	return fmt.Sprintf("candidate limit of %d reached; older matching records were not considered", c.cfg.MaxCandidates)
}

// similar ranks candidates by similarity to vec. capped reports that the
// candidate set was already truncated by the keyword predicate.
func (c *Coordinator) similar(ctx context.Context, req Request, vec []float32, capped bool) (*Result, error) {
	population := c.index.Len(req.Space)
	opts := vectorindex.QueryOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Exact:         population < c.cfg.ExactThreshold,
	}

	filtered := !filterEmpty(req)
	var pool map[string]candidate
	if filtered {
		list, err := c.load(ctx, req, c.cfg.MaxCandidates)
		if err != nil {
			if ctx.Err() != nil {
				return timedOut(req.Space), nil
			}
			return nil, err
		}
		if len(list) >= c.cfg.MaxCandidates {
			capped = true
		}
		if len(list) == 0 {
			return &Result{Space: req.Space, Items: []Hit{}, Status: StatusComplete}, nil
		}
		pool = make(map[string]candidate, len(list))
		for _, cand := range list {
			pool[cand.id] = cand
		}
		// Every vector above the threshold is needed before intersecting.
		opts.Limit = max(population, req.Limit)
	}

	res := &Result{Space: req.Space, Status: StatusComplete}
	matches, err := c.index.Query(ctx, req.Space, vec, opts)
	switch {
	case err == nil:
	case errors.Is(err, vectorindex.ErrPartial) || ctx.Err() != nil:
		res.Status = StatusPartial
		res.Reason = string(memory.KindTimeout) + ": similarity scan interrupted; results are partial"
	default:
		c.logger.Warn("vector query failed, falling back to recency", "space", req.Space, "error", err)
		return c.recent(ctx, req, StatusDegraded, degradedReason(err, memory.IndexUnavailable))
	}

	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		scores[m.ID] = m.Similarity
	}

	var fused map[string]float64
	if req.Hybrid && c.keywords != nil {
		fused = c.fuse(req, matches, opts.Limit)
	}

	if !filtered {
		ids := make([]string, 0, len(scores))
		for id := range scores {
			ids = append(ids, id)
		}
		hctx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), hydrateTimeout)
			defer cancel()
		}
		list, err := c.load(hctx, restrict(req, ids), len(ids))
		if err != nil {
			return nil, err
		}
		pool = make(map[string]candidate, len(list))
		for _, cand := range list {
			pool[cand.id] = cand
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, cand := range pool {
		// Keyword relevance never admits a record below the threshold.
		sim, matched := scores[id]
		if !matched {
			continue
		}
		h := cand.hit()
		h.Similarity = sim
		h.Score = fused[id]
		hits = append(hits, h)
	}

	if fused != nil {
		sortByScore(hits)
	} else {
		sortBySimilarity(hits)
	}
	res.Items = truncate(hits, req.Limit)
	if capped && res.Status == StatusComplete {
		res.Status = StatusPartial
		res.Reason = c.capReason()
	}
	return res, nil
}

// fuse blends BM25 scores of the query text with the similarity matches.
func (c *Coordinator) fuse(req Request, matches []vectorindex.Match, limit int) map[string]float64 {
	kw, err := c.keywords.Search(req.Space, req.Text, limit)
	if err != nil {
		c.logger.Warn("keyword ranking failed, using similarity only", "space", req.Space, "error", err)
		kw = nil
	}
	semantic := make([]textindex.Hit, len(matches))
	for i, m := range matches {
		semantic[i] = textindex.Hit{ID: m.ID, Score: m.Similarity}
	}

	fused := textindex.Fuse(semantic, kw, c.cfg.Fusion)
	out := make(map[string]float64, len(fused))
	for _, h := range fused {
		out[h.ID] = h.Score
	}
	return out
}

// recent returns the filtered candidates newest first.
func (c *Coordinator) recent(ctx context.Context, req Request, status Status, reason string) (*Result, error) {
	list, err := c.load(ctx, req, req.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return timedOut(req.Space), nil
		}
		return nil, err
	}

	hits := make([]Hit, len(list))
	for i, cand := range list {
		hits[i] = cand.hit()
	}
	sortBySimilarity(hits)
	return &Result{Space: req.Space, Items: truncate(hits, req.Limit), Status: status, Reason: reason}, nil
}

// degradedReason describes err, typing it with wrapAs unless it is typed already.
func degradedReason(err error, wrapAs func(error) *memory.Error) string {
	var merr *memory.Error
	if errors.As(err, &merr) {
		return merr.Error()
	}
	return wrapAs(err).Error()
}

func timedOut(space memory.Space) *Result {
	return &Result{
		Space:  space,
		Items:  []Hit{},
		Status: StatusPartial,
		Reason: string(memory.KindTimeout) + ": query deadline exceeded before ranking",
	}
}

// sortBySimilarity orders by similarity, then recency, then id.
func sortBySimilarity(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return before(hits[i], hits[j]) })
}

// sortByScore orders by fused score, ties broken as in sortBySimilarity.
func sortByScore(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return before(hits[i], hits[j])
	})
}

func before(a, b Hit) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func truncate(hits []Hit, limit int) []Hit {
	if len(hits) > limit {
		return hits[:limit]
	}
	return hits
}
