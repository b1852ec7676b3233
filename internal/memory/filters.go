package memory

import "time"

// Pagination defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects one page of a list. Page numbers start at 1.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

// Normalize fills defaults and clamps the page size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.Size
}

// SessionStatus filters sessions by lifecycle state.
type SessionStatus string

const (
	StatusAny    SessionStatus = ""
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// SessionFilter holds structural predicates over sessions, combined with AND.
// Zero values mean "no constraint".
type SessionFilter struct {
	Agent         string
	Project       string
	Status        SessionStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// IDs restricts the result to the given ids when non-nil.
	IDs []string
}

// EventFilter holds structural predicates over events.
type EventFilter struct {
	SessionID     string
	Kinds         []EventKind
	CreatedAfter  time.Time
	CreatedBefore time.Time
	IDs           []string

	// Newest lists newest first instead of in logged order.
	Newest bool
}

// PatternFilter holds structural predicates over patterns.
type PatternFilter struct {
	Domain        string
	Type          PatternType
	CreatedBy     string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	IDs           []string
}

// ListResult is one page of items plus the total number of matches.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"page_size"`
}

// Empty reports whether f constrains nothing.
func (f SessionFilter) Empty() bool {
	return f.Agent == "" && f.Project == "" && f.Status == StatusAny &&
		f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero() && f.IDs == nil
}

// Empty reports whether f constrains nothing. Ordering is not a constraint.
func (f EventFilter) Empty() bool {
	return f.SessionID == "" && len(f.Kinds) == 0 &&
		f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero() && f.IDs == nil
}

// Empty reports whether f constrains nothing.
func (f PatternFilter) Empty() bool {
	return f.Domain == "" && f.Type == "" && f.CreatedBy == "" &&
		f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero() && f.IDs == nil
}
