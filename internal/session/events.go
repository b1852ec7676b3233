package session

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// LogEventRequest holds a new event. Kind is parsed leniently: tags outside
// the known set are stored as "other" with the tag kept as SubKind. Logging
// the literal kind "other" requires an explicit SubKind.
type LogEventRequest struct {
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	SubKind   string         `json:"sub_kind,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LogEvent appends an event to a session. Events may be logged after the
// session has ended.
func (s *Service) LogEvent(ctx context.Context, req LogEventRequest) (*memory.Event, error) {
	if req.SessionID == "" {
		return nil, memory.Validation("session_id", "session id is required")
	}
	raw := strings.TrimSpace(req.Kind)
	if raw == "" {
		return nil, memory.Validation("kind", "event kind is required")
	}

	kind, sub := memory.ParseEventKind(raw)
	if explicit := strings.TrimSpace(req.SubKind); explicit != "" {
		sub = explicit
	}
	if kind == memory.EventOther && strings.EqualFold(sub, string(memory.EventOther)) {
		return nil, memory.Validation("sub_kind", "kind 'other' requires a sub_kind naming the event")
	}

	ev := &memory.Event{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Kind:      kind,
		SubKind:   sub,
		Data:      req.Data,
		Metadata:  req.Metadata,
		CreatedAt: s.now().UTC(),
	}

	unlock := s.locks.Lock(req.SessionID)
	err := s.store.AppendEvent(ctx, ev)
	unlock()
	if err != nil {
		return nil, wrap(err)
	}

	s.enrich(memory.SpaceEvents, ev.ID)
	return ev, nil
}

// EventQuery selects events of one session.
type EventQuery struct {
	SessionID string
	Kinds     []memory.EventKind
	Page      memory.Page
}

// Events returns one page of a session's events in chronological order.
func (s *Service) Events(ctx context.Context, q EventQuery) (*memory.ListResult[*memory.Event], error) {
	if q.SessionID == "" {
		return nil, memory.Validation("session_id", "session id is required")
	}
	if _, err := s.store.GetSession(ctx, q.SessionID); err != nil {
		return nil, wrap(err)
	}

	p := q.Page.Normalize()
	items, total, err := s.store.ListEvents(ctx, memory.EventFilter{SessionID: q.SessionID, Kinds: q.Kinds}, p)
	if err != nil {
		return nil, wrap(err)
	}
	return &memory.ListResult[*memory.Event]{Items: items, Count: len(items), Total: total, Page: p.Number, Size: p.Size}, nil
}

// GetEvent returns one event by id.
func (s *Service) GetEvent(ctx context.Context, id string) (*memory.Event, error) {
	if id == "" {
		return nil, memory.Validation("event_id", "event id is required")
	}
	ev, err := s.store.GetEvent(ctx, id)
	return ev, wrap(err)
}

var _ Enricher = (*enrichment.Pipeline)(nil)
