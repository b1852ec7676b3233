package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
	"github.com/khanglvm/session-memory-mcp/internal/retrieval"
	"github.com/khanglvm/session-memory-mcp/internal/session"
)

// defaultRecentDays applies when manage_session action=recent omits since_days.
const defaultRecentDays = 7

type toolHandler func(ctx context.Context, args json.RawMessage) (map[string]interface{}, error)

func (s *Server) tools() map[string]toolHandler {
	return map[string]toolHandler{
		"manage_session": s.manageSession,
		"manage_event":   s.manageEvent,
		"manage_pattern": s.managePattern,
		"search_memory":  s.searchMemory,
		"memory_health":  s.memoryHealth,
	}
}

type pageArgs struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (a pageArgs) page() (memory.Page, error) {
	if a.Page < 0 {
		return memory.Page{}, memory.Validation("page", "page must be 1 or greater, got %d", a.Page)
	}
	if a.PageSize < 0 || a.PageSize > memory.MaxPageSize {
		return memory.Page{}, memory.Validation("page_size", "page_size must be between 1 and %d, got %d", memory.MaxPageSize, a.PageSize)
	}
	return memory.Page{Number: a.Page, Size: a.PageSize}.Normalize(), nil
}

type timeRangeArgs struct {
	CreatedAfter  string `json:"created_after"`
	CreatedBefore string `json:"created_before"`
}

func (a timeRangeArgs) parse() (after, before time.Time, err error) {
	if after, err = parseTime("created_after", a.CreatedAfter); err != nil {
		return
	}
	before, err = parseTime("created_before", a.CreatedBefore)
	return
}

type sessionArgs struct {
	pageArgs
	timeRangeArgs
	Action    string                 `json:"action"`
	SessionID string                 `json:"session_id"`
	Agent     string                 `json:"agent"`
	Project   string                 `json:"project"`
	Summary   *string                `json:"summary"`
	Context   map[string]interface{} `json:"context"`
	Metadata  map[string]interface{} `json:"metadata"`
	Status    string                 `json:"status"`
	SinceDays int                    `json:"since_days"`
}

func (s *Server) manageSession(ctx context.Context, raw json.RawMessage) (map[string]interface{}, error) {
	var args sessionArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	svc := s.deps.Sessions

	switch args.Action {
	case "create":
		sess, err := svc.Create(ctx, session.CreateRequest{Agent: args.Agent, Project: args.Project, Context: args.Context, Metadata: args.Metadata})
		return entity("session", sess), err

	case "end":
		sess, err := svc.End(ctx, args.SessionID, session.EndRequest{Summary: args.Summary, Metadata: args.Metadata})
		return entity("session", sess), err

	case "update":
		sess, err := svc.Update(ctx, args.SessionID, session.UpdateRequest{Summary: args.Summary, Context: args.Context, Metadata: args.Metadata})
		return entity("session", sess), err

	case "get":
		sess, err := svc.Get(ctx, args.SessionID)
		return entity("session", sess), err

	case "last":
		sess, err := svc.Last(ctx, args.Agent)
		return entity("session", sess), err

	case "recent":
		days := args.SinceDays
		if days == 0 {
			days = defaultRecentDays
		}
		sessions, err := svc.Recent(ctx, args.Agent, days)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"sessions": sessions, "count": len(sessions), "since_days": days}, nil

	case "delete":
		if err := svc.Delete(ctx, args.SessionID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": args.SessionID}, nil

	case "list":
		page, err := args.page()
		if err != nil {
			return nil, err
		}
		after, before, err := args.parse()
		if err != nil {
			return nil, err
		}
		res, err := svc.List(ctx, memory.SessionFilter{
			Agent:         args.Agent,
			Project:       args.Project,
			Status:        memory.SessionStatus(args.Status),
			CreatedAfter:  after,
			CreatedBefore: before,
		}, page)
		if err != nil {
			return nil, err
		}
		return listPayload("sessions", res), nil
	}
	return nil, badAction(args.Action, "create", "end", "update", "get", "list", "last", "recent", "delete")
}

type eventArgs struct {
	pageArgs
	Action    string                 `json:"action"`
	SessionID string                 `json:"session_id"`
	EventID   string                 `json:"event_id"`
	Kind      string                 `json:"kind"`
	SubKind   string                 `json:"sub_kind"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
	Kinds     []string               `json:"kinds"`
}

func (s *Server) manageEvent(ctx context.Context, raw json.RawMessage) (map[string]interface{}, error) {
	var args eventArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	svc := s.deps.Sessions

	switch args.Action {
	case "log":
		ev, err := svc.LogEvent(ctx, session.LogEventRequest{
			SessionID: args.SessionID,
			Kind:      args.Kind,
			SubKind:   args.SubKind,
			Data:      args.Data,
			Metadata:  args.Metadata,
		})
		return entity("event", ev), err

	case "get":
		ev, err := svc.GetEvent(ctx, args.EventID)
		return entity("event", ev), err

	case "list":
		page, err := args.page()
		if err != nil {
			return nil, err
		}
		kinds, err := parseKinds(args.Kinds)
		if err != nil {
			return nil, err
		}
		res, err := svc.Events(ctx, session.EventQuery{SessionID: args.SessionID, Kinds: kinds, Page: page})
		if err != nil {
			return nil, err
		}
		return listPayload("events", res), nil
	}
	return nil, badAction(args.Action, "log", "list", "get")
}

type patternArgs struct {
	pageArgs
	Action        string                 `json:"action"`
	PatternID     string                 `json:"pattern_id"`
	Type          string                 `json:"type"`
	SubType       string                 `json:"sub_type"`
	Domain        string                 `json:"domain"`
	Description   string                 `json:"description"`
	PatternAction string                 `json:"pattern_action"`
	Outcome       string                 `json:"outcome"`
	Context       map[string]interface{} `json:"context"`
	CreatedBy     string                 `json:"created_by"`
	SessionID     string                 `json:"session_id"`
	Rating        int                    `json:"rating"`
	Feedback      string                 `json:"feedback"`
	Query         string                 `json:"query"`
	Keyword       string                 `json:"keyword"`
	Hybrid        bool                   `json:"hybrid"`
	Limit         int                    `json:"limit"`
	MinSimilarity float64                `json:"min_similarity"`
}

func (s *Server) managePattern(ctx context.Context, raw json.RawMessage) (map[string]interface{}, error) {
	var args patternArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	svc := s.deps.Patterns

	switch args.Action {
	case "harvest":
		p, err := svc.Harvest(ctx, pattern.HarvestRequest{
			Type:        args.Type,
			SubType:     args.SubType,
			Domain:      args.Domain,
			Description: args.Description,
			Action:      args.PatternAction,
			Outcome:     args.Outcome,
			Context:     args.Context,
			CreatedBy:   args.CreatedBy,
			SessionID:   args.SessionID,
		})
		var merr *memory.Error
		if errors.As(err, &merr) && merr.Field == "action" {
			merr.Field = "pattern_action"
			merr.Hint = "Fix the 'pattern_action' argument and retry"
		}
		return entity("pattern", p), err

	case "observe":
		o, err := svc.Observe(ctx, pattern.ObserveRequest{
			PatternID: args.PatternID,
			SessionID: args.SessionID,
			Rating:    args.Rating,
			Feedback:  args.Feedback,
		})
		return entity("observation", o), err

	case "get":
		d, err := svc.Get(ctx, args.PatternID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"pattern":             d.Pattern,
			"effectiveness":       d.Effectiveness,
			"recent_observations": d.Observations,
		}, nil

	case "list":
		page, err := args.page()
		if err != nil {
			return nil, err
		}
		f := memory.PatternFilter{Domain: args.Domain, CreatedBy: args.CreatedBy}
		if args.Type != "" {
			f.Type, _ = memory.ParsePatternType(args.Type)
		}
		res, err := svc.List(ctx, f, page)
		if err != nil {
			return nil, err
		}
		return listPayload("patterns", res), nil

	case "search":
		res, err := svc.Search(ctx, pattern.SearchRequest{
			Query:         args.Query,
			Domain:        args.Domain,
			Type:          args.Type,
			Keyword:       args.Keyword,
			Limit:         args.Limit,
			MinSimilarity: args.MinSimilarity,
			Hybrid:        args.Hybrid,
		})
		if err != nil {
			return nil, err
		}
		return resultPayload(res), nil
	}
	return nil, badAction(args.Action, "harvest", "observe", "get", "list", "search")
}

type searchArgs struct {
	timeRangeArgs
	Space         string   `json:"space"`
	Query         string   `json:"query"`
	Keyword       string   `json:"keyword"`
	Hybrid        bool     `json:"hybrid"`
	Limit         int      `json:"limit"`
	MinSimilarity float64  `json:"min_similarity"`
	Agent         string   `json:"agent"`
	Project       string   `json:"project"`
	Status        string   `json:"status"`
	SessionID     string   `json:"session_id"`
	Kinds         []string `json:"kinds"`
	Domain        string   `json:"domain"`
	Type          string   `json:"type"`
	CreatedBy     string   `json:"created_by"`
}

func (s *Server) searchMemory(ctx context.Context, raw json.RawMessage) (map[string]interface{}, error) {
	var args searchArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if args.Space == "" {
		return nil, memory.Validation("space", "space is required: sessions, events or patterns")
	}
	after, before, err := args.parse()
	if err != nil {
		return nil, err
	}

	req := retrieval.Request{
		Space:         memory.Space(args.Space),
		Text:          args.Query,
		Keyword:       args.Keyword,
		Hybrid:        args.Hybrid,
		Limit:         args.Limit,
		MinSimilarity: args.MinSimilarity,
	}
	switch req.Space {
	case memory.SpaceSessions:
		status := memory.SessionStatus(args.Status)
		if status != memory.StatusAny && status != memory.StatusActive && status != memory.StatusEnded {
			return nil, memory.Validation("status", "status must be 'active' or 'ended', got %q", args.Status)
		}
		req.Sessions = memory.SessionFilter{Agent: args.Agent, Project: args.Project, Status: status, CreatedAfter: after, CreatedBefore: before}
	case memory.SpaceEvents:
		kinds, err := parseKinds(args.Kinds)
		if err != nil {
			return nil, err
		}
		req.Events = memory.EventFilter{SessionID: args.SessionID, Kinds: kinds, CreatedAfter: after, CreatedBefore: before}
	case memory.SpacePatterns:
		f := memory.PatternFilter{Domain: strings.ToLower(strings.TrimSpace(args.Domain)), CreatedBy: args.CreatedBy, CreatedAfter: after, CreatedBefore: before}
		if args.Type != "" {
			f.Type, _ = memory.ParsePatternType(args.Type)
		}
		req.Patterns = f
	}

	res, err := s.deps.Retrieval.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return resultPayload(res), nil
}

func (s *Server) memoryHealth(ctx context.Context, _ json.RawMessage) (map[string]interface{}, error) {
	health := map[string]interface{}{
		"status":  "ok",
		"version": s.deps.Version,
	}

	if s.deps.Store != nil {
		health["storage_driver"] = s.deps.Store.Driver()
		stats, err := s.deps.Store.Stats(ctx)
		if err != nil {
			health["status"] = "degraded"
			health["storage_error"] = err.Error()
		} else {
			health["rows"] = stats
		}
	}
	if s.deps.Queue != nil {
		health["queue_pending"] = s.deps.Queue.Pending()
		health["queue_dropped"] = s.deps.Queue.Dropped()
	}
	if s.deps.Index != nil {
		sizes := make(map[string]int, len(memory.Spaces))
		for _, space := range memory.Spaces {
			sizes[string(space)] = s.deps.Index.Len(space)
		}
		health["index_sizes"] = sizes
	}
	if s.deps.Embedder != nil {
		health["embedding_model"] = s.deps.Embedder.Model()
		health["embedding_dimensions"] = s.deps.Embedder.Dimensions()
	}
	return health, nil
}

func parseKinds(raw []string) ([]memory.EventKind, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	kinds := make([]memory.EventKind, 0, len(raw))
	for _, r := range raw {
		kind, sub := memory.ParseEventKind(r)
		if kind == memory.EventOther && !strings.EqualFold(sub, string(memory.EventOther)) {
			return nil, memory.Validation("kinds", "unknown event kind %q", r)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates. Empty means unset.
func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, memory.Validation(field, "expected an RFC 3339 timestamp or YYYY-MM-DD date, got %q", value)
}
