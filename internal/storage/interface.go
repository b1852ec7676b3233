/*
Package storage implements the authoritative store for sessions, events, patterns,
observations and their embeddings.

Two backends share one SQL implementation: SQLite via modernc.org/sqlite (a pure Go,
CGo-free driver, the default, stored at ~/.session-memory-mcp/memory.db) and PostgreSQL
via lib/pq with pgvector columns for embeddings. The vector index is a derived cache
over this store and can be rebuilt from the embeddings table at any time.
*/
package storage

import (
	"context"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// Storage defines the interface for persistent storage operations.
type Storage interface {
	// Init opens the database and runs migrations.
	Init(ctx context.Context) error

	// Driver names the backend ("sqlite" or "postgres").
	Driver() string

	CreateSession(ctx context.Context, s *memory.Session) error
	GetSession(ctx context.Context, id string) (*memory.Session, error)
	UpdateSession(ctx context.Context, id string, u SessionUpdate) (*memory.Session, error)

	// EndSession sets ended_at only if it is still unset. It returns an
	// AlreadyEnded error when the session had been ended concurrently.
	EndSession(ctx context.Context, id string, endedAt time.Time, u SessionUpdate) (*memory.Session, error)

	// DeleteSession removes a session and every event it owns, returning
	// the ids of the deleted events.
	DeleteSession(ctx context.Context, id string) ([]string, error)

	ListSessions(ctx context.Context, f memory.SessionFilter, p memory.Page) ([]*memory.Session, int, error)

	// AppendEvent assigns the next sequence number of the owning session and
	// stores the event. Callers serialize appends per session.
	AppendEvent(ctx context.Context, e *memory.Event) error
	GetEvent(ctx context.Context, id string) (*memory.Event, error)
	ListEvents(ctx context.Context, f memory.EventFilter, p memory.Page) ([]*memory.Event, int, error)

	CreatePattern(ctx context.Context, p *memory.Pattern) error
	GetPattern(ctx context.Context, id string) (*memory.Pattern, error)
	ListPatterns(ctx context.Context, f memory.PatternFilter, p memory.Page) ([]*memory.Pattern, int, error)

	CreateObservation(ctx context.Context, o *memory.Observation) error
	ListObservations(ctx context.Context, patternID string) ([]*memory.Observation, error)

	// SaveEmbedding stores or replaces the vector of an entity in a space.
	SaveEmbedding(ctx context.Context, rec memory.EmbeddingRecord) error

	// ListEmbeddings streams every stored vector of a space to fn.
	ListEmbeddings(ctx context.Context, space memory.Space, fn func(memory.EmbeddingRecord) error) error

	DeleteEmbeddings(ctx context.Context, space memory.Space, ids ...string) error

	// MissingEmbeddings returns ids of entities in space that have no vector
	// produced by model, newest first, starting after the cursor. The returned
	// cursor continues the scan.
	MissingEmbeddings(ctx context.Context, space memory.Space, model string, after MissingCursor, limit int) ([]string, MissingCursor, error)

	// Stats returns row counts per table.
	Stats(ctx context.Context) (map[string]int, error)

	Close() error
}

// SessionUpdate is a partial update of the mutable session fields.
// Nil fields are left unchanged.
type SessionUpdate struct {
	Summary  *string
	Context  map[string]any
	Metadata map[string]any
}
