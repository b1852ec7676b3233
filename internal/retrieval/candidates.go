package retrieval

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// candidate is a record that passed the structural filters.
type candidate struct {
	id        string
	createdAt time.Time
	session   *memory.Session
	event     *memory.Event
	pattern   *memory.Pattern
}

func (c candidate) hit() Hit {
	return Hit{ID: c.id, CreatedAt: c.createdAt, Session: c.session, Event: c.event, Pattern: c.pattern}
}

// load returns up to limit records of req.Space passing its filter, newest first.
func (c *Coordinator) load(ctx context.Context, req Request, limit int) ([]candidate, error) {
	out := make([]candidate, 0, min(limit, memory.MaxPageSize))
	page := memory.Page{Number: 1, Size: memory.MaxPageSize}
	for len(out) < limit {
		n, err := c.loadPage(ctx, req, page, &out)
		if err != nil {
			return nil, err
		}
		if n < page.Size {
			break
		}
		page.Number++
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Coordinator) loadPage(ctx context.Context, req Request, page memory.Page, out *[]candidate) (int, error) {
	switch req.Space {
	case memory.SpaceSessions:
		items, _, err := c.store.ListSessions(ctx, req.Sessions, page)
		if err != nil {
			return 0, wrap(err)
		}
		for _, s := range items {
			*out = append(*out, candidate{id: s.ID, createdAt: s.CreatedAt, session: s})
		}
		return len(items), nil

	case memory.SpaceEvents:
		f := req.Events
		f.Newest = true
		items, _, err := c.store.ListEvents(ctx, f, page)
		if err != nil {
			return 0, wrap(err)
		}
		for _, e := range items {
			*out = append(*out, candidate{id: e.ID, createdAt: e.CreatedAt, event: e})
		}
		return len(items), nil

	default:
		items, _, err := c.store.ListPatterns(ctx, req.Patterns, page)
		if err != nil {
			return 0, wrap(err)
		}
		for _, p := range items {
			*out = append(*out, candidate{id: p.ID, createdAt: p.CreatedAt, pattern: p})
		}
		return len(items), nil
	}
}

// restrict narrows the space's filter to ids, intersecting with any ids
// the caller already supplied.
func restrict(req Request, ids []string) Request {
	if ids == nil {
		ids = []string{}
	}
	switch req.Space {
	case memory.SpaceSessions:
		req.Sessions.IDs = intersect(req.Sessions.IDs, ids)
	case memory.SpaceEvents:
		req.Events.IDs = intersect(req.Events.IDs, ids)
	default:
		req.Patterns.IDs = intersect(req.Patterns.IDs, ids)
	}
	return req
}

// intersect returns ids, or only those also in existing when it is non-nil.
func intersect(existing, ids []string) []string {
	if existing == nil {
		return ids
	}
	keep := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		keep[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func filterEmpty(req Request) bool {
	switch req.Space {
	case memory.SpaceSessions:
		return req.Sessions.Empty()
	case memory.SpaceEvents:
		return req.Events.Empty()
	default:
		return req.Patterns.Empty()
	}
}

func wrap(err error) error {
	var merr *memory.Error
	if errors.As(err, &merr) {
		return err
	}
	return memory.Internal(err)
}
