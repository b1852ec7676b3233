/*
Package pattern implements the pattern store: reusable lessons harvested from
sessions, and observations recording how well they worked when applied.

Patterns are immutable once harvested and are never deleted. Harvesting the
same lesson twice yields two patterns; nothing is deduplicated.
*/
package pattern

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/retrieval"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
)

// DefaultDomain is used when a pattern is harvested without a domain.
const DefaultDomain = "general"

// recentObservations is how many observations Get returns with a pattern.
const recentObservations = 10

// Enricher schedules embedding of new patterns.
type Enricher interface {
	Submit(job enrichment.Job) bool
}

// Searcher runs similarity queries. *retrieval.Coordinator implements it.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Deps are the collaborators of the service. Enricher is optional.
type Deps struct {
	Store    storage.Storage
	Enricher Enricher
	Searcher Searcher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service is the pattern store.
type Service struct {
	store    storage.Storage
	enricher Enricher
	searcher Searcher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a pattern service.
func New(deps Deps) *Service {
	s := &Service{
		store:    deps.Store,
		enricher: deps.Enricher,
		searcher: deps.Searcher,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "pattern")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// HarvestRequest describes a new pattern.
type HarvestRequest struct {
	Type        string         `json:"type"`
	SubType     string         `json:"sub_type,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Outcome     string         `json:"outcome,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
}

// Harvest stores a new pattern.
func (s *Service) Harvest(ctx context.Context, req HarvestRequest) (*memory.Pattern, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, memory.Validation("description", "pattern description is required")
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return nil, memory.Validation("action", "pattern action is required")
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, memory.Validation("type", "pattern type is required (success, failure, technical, process or other)")
	}

	typ, sub := memory.ParsePatternType(req.Type)
	if explicit := strings.TrimSpace(req.SubType); explicit != "" {
		sub = explicit
	}
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		domain = DefaultDomain
	}

	if req.SessionID != "" {
		if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
			return nil, wrap(err)
		}
	}

	p := &memory.Pattern{
		ID:          uuid.NewString(),
		Type:        typ,
		SubType:     sub,
		Domain:      domain,
		Description: description,
		Action:      action,
		Outcome:     strings.TrimSpace(req.Outcome),
		Context:     req.Context,
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
		SessionID:   req.SessionID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreatePattern(ctx, p); err != nil {
		return nil, wrap(err)
	}

	s.logger.Debug("pattern harvested", "id", p.ID, "domain", p.Domain, "type", p.Type)
	if s.enricher != nil {
		s.enricher.Submit(enrichment.Job{Space: memory.SpacePatterns, ID: p.ID})
	}
	return p, nil
}

// ObserveRequest records one application of a pattern.
type ObserveRequest struct {
	PatternID string `json:"pattern_id"`
	SessionID string `json:"session_id,omitempty"`
	Rating    int    `json:"rating"`
	Feedback  string `json:"feedback,omitempty"`
}

// Observe records an observation. The rating must be within 1..5.
func (s *Service) Observe(ctx context.Context, req ObserveRequest) (*memory.Observation, error) {
	if req.PatternID == "" {
		return nil, memory.Validation("pattern_id", "pattern id is required")
	}
	if req.Rating < memory.MinRating || req.Rating > memory.MaxRating {
		return nil, memory.Validation("rating", "rating must be between %d and %d, got %d", memory.MinRating, memory.MaxRating, req.Rating)
	}
	if _, err := s.store.GetPattern(ctx, req.PatternID); err != nil {
		return nil, wrap(err)
	}
	if req.SessionID != "" {
		if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
			return nil, wrap(err)
		}
	}

	o := &memory.Observation{
		ID:        uuid.NewString(),
		PatternID: req.PatternID,
		SessionID: req.SessionID,
		Rating:    req.Rating,
		Feedback:  strings.TrimSpace(req.Feedback),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateObservation(ctx, o); err != nil {
		return nil, wrap(err)
	}
	return o, nil
}

// Detail is a pattern with its effectiveness and latest observations.
type Detail struct {
	Pattern       *memory.Pattern       `json:"pattern"`
	Effectiveness Effectiveness         `json:"effectiveness"`
	Observations  []*memory.Observation `json:"recent_observations"`
}

// Get returns a pattern with its effectiveness summary.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	if id == "" {
		return nil, memory.Validation("pattern_id", "pattern id is required")
	}
	p, err := s.store.GetPattern(ctx, id)
	if err != nil {
		return nil, wrap(err)
	}
	obs, err := s.store.ListObservations(ctx, id)
	if err != nil {
		return nil, wrap(err)
	}

	recent := obs
	if len(recent) > recentObservations {
		recent = recent[len(recent)-recentObservations:]
	}
	return &Detail{Pattern: p, Effectiveness: Evaluate(obs, s.now()), Observations: recent}, nil
}

// List returns one page of patterns, newest first.
func (s *Service) List(ctx context.Context, f memory.PatternFilter, p memory.Page) (*memory.ListResult[*memory.Pattern], error) {
	f.Domain = strings.ToLower(strings.TrimSpace(f.Domain))
	p = p.Normalize()
	items, total, err := s.store.ListPatterns(ctx, f, p)
	if err != nil {
		return nil, wrap(err)
	}
	return &memory.ListResult[*memory.Pattern]{Items: items, Count: len(items), Total: total, Page: p.Number, Size: p.Size}, nil
}

// SearchRequest is a similarity search over patterns.
type SearchRequest struct {
	Query         string  `json:"query"`
	Domain        string  `json:"domain,omitempty"`
	Type          string  `json:"type,omitempty"`
	Keyword       string  `json:"keyword,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	Hybrid        bool    `json:"hybrid,omitempty"`
}

// Search ranks patterns by similarity to the query, restricted to the
// domain and type when given.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*retrieval.Result, error) {
	if s.searcher == nil {
		return nil, memory.IndexUnavailable(errors.New("pattern search is not configured"))
	}

	f := memory.PatternFilter{Domain: strings.ToLower(strings.TrimSpace(req.Domain))}
	if req.Type != "" {
		typ, _ := memory.ParsePatternType(req.Type)
		f.Type = typ
	}
	return s.searcher.Search(ctx, retrieval.Request{
		Space:         memory.SpacePatterns,
		Text:          req.Query,
		Keyword:       req.Keyword,
		Hybrid:        req.Hybrid,
		Patterns:      f,
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
}

func wrap(err error) error {
	var merr *memory.Error
	if errors.As(err, &merr) {
		return err
	}
	return memory.Internal(err)
}
