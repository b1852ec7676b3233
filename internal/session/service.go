/*
Package session implements the session and event store: the primary write
path for agent activity.

Writes are durable when a call returns. Embedding and indexing happen later
in the enrichment pipeline, so a new record can be missing from similarity
search for a short while. Events of one session are appended under that
session's lock so each gets a distinct, increasing sequence number; different
sessions never wait on each other.
*/
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
)

// Enricher schedules derived-data refreshes. *enrichment.Pipeline implements it.
type Enricher interface {
	Submit(job enrichment.Job) bool
	Forget(ctx context.Context, space memory.Space, ids ...string)
}

// Deps are the collaborators of the service. Enricher is optional.
type Deps struct {
	Store    storage.Storage
	Enricher Enricher
	Logger   *slog.Logger

	// Now returns the current time; time.Now when nil.
	Now func() time.Time
}

// Service is the session/event store.
type Service struct {
	store    storage.Storage
	enricher Enricher
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyedMutex
}

// New creates a session service.
func New(deps Deps) *Service {
	s := &Service{
		store:    deps.Store,
		enricher: deps.Enricher,
		logger:   deps.Logger,
		now:      deps.Now,
		locks:    newKeyedMutex(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateRequest holds the fields of a new session.
type CreateRequest struct {
	Agent    string         `json:"agent"`
	Project  string         `json:"project,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Create starts a new active session.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*memory.Session, error) {
	agent := strings.TrimSpace(req.Agent)
	if agent == "" {
		return nil, memory.Validation("agent", "agent name is required")
	}

	sess := &memory.Session{
		ID:        uuid.NewString(),
		Agent:     agent,
		Project:   strings.TrimSpace(req.Project),
		Context:   req.Context,
		Metadata:  req.Metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, wrap(err)
	}

	s.logger.Debug("session created", "id", sess.ID, "agent", sess.Agent)
	s.enrich(memory.SpaceSessions, sess.ID)
	return sess, nil
}

// EndRequest holds the optional fields set when a session ends.
type EndRequest struct {
	Summary  *string        `json:"summary,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// End marks a session as ended. Supplied metadata is merged into the existing
// metadata. Ending twice fails with AlreadyEnded.
func (s *Service) End(ctx context.Context, id string, req EndRequest) (*memory.Session, error) {
	if id == "" {
		return nil, memory.Validation("session_id", "session id is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, wrap(err)
	}
	if !current.Active() {
		return nil, memory.AlreadyEnded(id)
	}

	endedAt := s.now().UTC()
	if endedAt.Before(current.CreatedAt) {
		endedAt = current.CreatedAt
	}

	update := storage.SessionUpdate{Summary: req.Summary}
	if len(req.Metadata) > 0 {
		update.Metadata = merge(current.Metadata, req.Metadata)
	}

	sess, err := s.store.EndSession(ctx, id, endedAt, update)
	if err != nil {
		return nil, wrap(err)
	}

	s.logger.Debug("session ended", "id", id)
	s.enrich(memory.SpaceSessions, id)
	return sess, nil
}

// UpdateRequest is a partial update of summary, context and metadata.
// Timestamps cannot be changed.
type UpdateRequest struct {
	Summary  *string        `json:"summary,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Update applies a partial update. Context and metadata replace the stored maps.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*memory.Session, error) {
	if id == "" {
		return nil, memory.Validation("session_id", "session id is required")
	}
	if req.Summary == nil && req.Context == nil && req.Metadata == nil {
		return nil, memory.Validation("summary", "nothing to update; provide summary, context or metadata")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.store.UpdateSession(ctx, id, storage.SessionUpdate{
		Summary:  req.Summary,
		Context:  req.Context,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, wrap(err)
	}

	s.enrich(memory.SpaceSessions, id)
	return sess, nil
}

// Delete removes a session, its events and their vectors.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return memory.Validation("session_id", "session id is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	eventIDs, err := s.store.DeleteSession(ctx, id)
	if err != nil {
		return wrap(err)
	}

	if s.enricher != nil {
		s.enricher.Forget(ctx, memory.SpaceSessions, id)
		s.enricher.Forget(ctx, memory.SpaceEvents, eventIDs...)
	}
	s.logger.Info("session deleted", "id", id, "events", len(eventIDs))
	return nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*memory.Session, error) {
	if id == "" {
		return nil, memory.Validation("session_id", "session id is required")
	}
	sess, err := s.store.GetSession(ctx, id)
	return sess, wrap(err)
}

// List returns one page of sessions matching f, newest first.
func (s *Service) List(ctx context.Context, f memory.SessionFilter, p memory.Page) (*memory.ListResult[*memory.Session], error) {
	if err := validateStatus(f.Status); err != nil {
		return nil, err
	}
	if !f.CreatedAfter.IsZero() && !f.CreatedBefore.IsZero() && f.CreatedAfter.After(f.CreatedBefore) {
		return nil, memory.Validation("created_after", "created_after is later than created_before")
	}

	p = p.Normalize()
	items, total, err := s.store.ListSessions(ctx, f, p)
	if err != nil {
		return nil, wrap(err)
	}
	return &memory.ListResult[*memory.Session]{Items: items, Count: len(items), Total: total, Page: p.Number, Size: p.Size}, nil
}

// Last returns the most recently created session of agent.
func (s *Service) Last(ctx context.Context, agent string) (*memory.Session, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, memory.Validation("agent", "agent name is required")
	}

	items, _, err := s.store.ListSessions(ctx, memory.SessionFilter{Agent: agent}, memory.Page{Number: 1, Size: 1})
	if err != nil {
		return nil, wrap(err)
	}
	if len(items) == 0 {
		e := memory.NotFound("session", "")
		e.Message = "no sessions for agent " + agent
		e.Field = "agent"
		return nil, e
	}
	return items[0], nil
}

// Recent returns every session of agent created within the last sinceDays
// days, newest first.
func (s *Service) Recent(ctx context.Context, agent string, sinceDays int) ([]*memory.Session, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, memory.Validation("agent", "agent name is required")
	}
	if sinceDays <= 0 {
		return nil, memory.Validation("since_days", "since_days must be positive, got %d", sinceDays)
	}

	f := memory.SessionFilter{
		Agent:        agent,
		CreatedAfter: s.now().UTC().AddDate(0, 0, -sinceDays),
	}
	all := []*memory.Session{}
	for page := (memory.Page{Number: 1, Size: memory.MaxPageSize}); ; page.Number++ {
		items, _, err := s.store.ListSessions(ctx, f, page)
		if err != nil {
			return nil, wrap(err)
		}
		all = append(all, items...)
		if len(items) < page.Size {
			return all, nil
		}
	}
}

func (s *Service) enrich(space memory.Space, id string) {
	if s.enricher != nil {
		s.enricher.Submit(enrichment.Job{Space: space, ID: id})
	}
}

func validateStatus(status memory.SessionStatus) error {
	switch status {
	case memory.StatusAny, memory.StatusActive, memory.StatusEnded:
		return nil
	}
	return memory.Validation("status", "status must be 'active' or 'ended', got %q", status)
}

// merge returns base overlaid with extra; neither input is modified.
func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// wrap maps untyped storage failures to InternalError.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *memory.Error
	if errors.As(err, &e) {
		return err
	}
	return memory.Internal(err)
}
