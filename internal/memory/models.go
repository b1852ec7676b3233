/*
Package memory defines the domain model shared by every layer of session-memory-mcp.

These types describe agent work sessions, the timestamped events logged within them,
harvested patterns ("lessons learned") and the observations recorded when a pattern is
applied. Storage, retrieval and the MCP tool layer all speak in these types.
*/
package memory

import "time"

// Space names a vector space. Vectors from different spaces are never compared.
type Space string

const (
	SpaceSessions Space = "sessions"
	SpaceEvents   Space = "events"
	SpacePatterns Space = "patterns"
)

// Spaces lists every vector space in a stable order.
var Spaces = []Space{SpaceSessions, SpaceEvents, SpacePatterns}

// Valid reports whether s is a known vector space.
func (s Space) Valid() bool {
	switch s {
	case SpaceSessions, SpaceEvents, SpacePatterns:
		return true
	}
	return false
}

// Session is one continuous unit of work by one agent.
type Session struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// Agent is the name of the agent that owns the session.
	Agent string `json:"agent"`

	// Project optionally associates the session with a project.
	Project string `json:"project,omitempty"`

	// Summary is nil until the session ends or is summarized.
	Summary *string `json:"summary,omitempty"`

	Context  map[string]any `json:"context,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// EndedAt is nil while the session is active. Once set it never changes.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Event is one timestamped occurrence within a session.
type Event struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// Seq is the 1-based position of the event within its session.
	// It is assigned under the session's ordering lock and never collides.
	Seq int64 `json:"seq"`

	Kind EventKind `json:"kind"`

	// SubKind carries the free-text tag when Kind is EventOther.
	SubKind string `json:"sub_kind,omitempty"`

	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Pattern is a reusable lesson. It is immutable after creation and never deleted.
type Pattern struct {
	ID          string         `json:"id"`
	Type        PatternType    `json:"type"`
	SubType     string         `json:"sub_type,omitempty"`
	Domain      string         `json:"domain"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Outcome     string         `json:"outcome,omitempty"`
	Context     map[string]any `json:"context,omitempty"`

	// CreatedBy names the author (usually an agent).
	CreatedBy string `json:"created_by,omitempty"`

	// SessionID references the session the pattern was harvested from, if any.
	SessionID string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Observation records one application of a pattern in practice.
type Observation struct {
	ID        string    `json:"id"`
	PatternID string    `json:"pattern_id"`
	SessionID string    `json:"session_id,omitempty"`
	Rating    int       `json:"rating"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Rating bounds for observations.
const (
	MinRating = 1
	MaxRating = 5
)

// EmbeddingRecord is a vector together with the model that produced it.
// Vectors from different models are never mixed within one space.
type EmbeddingRecord struct {
	EntityID  string    `json:"entity_id"`
	Space     Space     `json:"space"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	UpdatedAt time.Time `json:"updated_at"`
}
