package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s := NewSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(agent string, created time.Time) *memory.Session {
	return &memory.Session{
		ID:        uuid.NewString(),
		Agent:     agent,
		CreatedAt: created,
	}
}

// TestInit verifies database initialization and schema creation.
func TestInit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	s := NewSQLite(dbPath, nil)
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	_, err := os.Stat(dbPath)
	require.NoError(t, err, "database file not created")

	// A second Init is a no-op.
	require.NoError(t, s.Init(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, migrations[len(migrations)-1].version, version)
	assert.Equal(t, "sqlite", s.Driver())
}

func TestUninitializedStore(t *testing.T) {
	s := NewSQLite(filepath.Join(t.TempDir(), "x.db"), nil)
	_, err := s.GetSession(context.Background(), "any")
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Now().UTC().Truncate(time.Microsecond)
	sess := newSession("claude", created)
	sess.Project = "api"
	sess.Context = map[string]any{"branch": "main"}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "claude", got.Agent)
	assert.Equal(t, "api", got.Project)
	assert.Equal(t, "main", got.Context["branch"])
	assert.Nil(t, got.Summary)
	assert.True(t, got.Active())
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = s.GetSession(ctx, "missing")
	assert.True(t, memory.IsKind(err, memory.KindNotFound))
}

func TestEndSessionOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Now().UTC()
	sess := newSession("claude", created)
	require.NoError(t, s.CreateSession(ctx, sess))

	summary := "done"
	ended := created.Add(time.Minute)
	got, err := s.EndSession(ctx, sess.ID, ended, SessionUpdate{Summary: &summary})
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))
	assert.Equal(t, "done", *got.Summary)

	_, err = s.EndSession(ctx, sess.ID, ended.Add(time.Hour), SessionUpdate{})
	assert.True(t, memory.IsKind(err, memory.KindAlreadyEnded))

	// Updating after end leaves ended_at alone.
	other := "revised"
	got, err = s.UpdateSession(ctx, sess.ID, SessionUpdate{Summary: &other})
	require.NoError(t, err)
	assert.True(t, ended.Equal(*got.EndedAt))
	assert.Equal(t, "revised", *got.Summary)

	_, err = s.EndSession(ctx, "missing", ended, SessionUpdate{})
	assert.True(t, memory.IsKind(err, memory.KindNotFound))
}

func TestListSessionsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		sess := newSession("a", base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			sess.Project = "p1"
		}
		require.NoError(t, s.CreateSession(ctx, sess))
		if i == 4 {
			_, err := s.EndSession(ctx, sess.ID, sess.CreatedAt.Add(time.Second), SessionUpdate{})
			require.NoError(t, err)
		}
	}
	require.NoError(t, s.CreateSession(ctx, newSession("b", base)))

	list, total, err := s.ListSessions(ctx, memory.SessionFilter{Agent: "a"}, memory.Page{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, list, 5)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt), "newest first")
	}

	_, total, err = s.ListSessions(ctx, memory.SessionFilter{Agent: "a", Project: "p1"}, memory.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, total, err = s.ListSessions(ctx, memory.SessionFilter{Agent: "a", Status: memory.StatusActive}, memory.Page{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	page, total, err := s.ListSessions(ctx, memory.SessionFilter{}, memory.Page{Number: 2, Size: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, page, 2)

	none, total, err := s.ListSessions(ctx, memory.SessionFilter{IDs: []string{}}, memory.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestAppendEventSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	sess := newSession("claude", now)
	require.NoError(t, s.CreateSession(ctx, sess))

	for i := 0; i < 3; i++ {
		e := &memory.Event{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Kind:      memory.EventNote,
			Data:      map[string]any{"i": i},
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Seq)
	}

	// A clock that steps backwards does not reorder the session.
	late := &memory.Event{ID: uuid.NewString(), SessionID: sess.ID, Kind: memory.EventNote, CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, s.AppendEvent(ctx, late))
	assert.Equal(t, int64(4), late.Seq)

	events, total, err := s.ListEvents(ctx, memory.EventFilter{SessionID: sess.ID}, memory.Page{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Equal(t, late.ID, events[3].ID)

	newest, _, err := s.ListEvents(ctx, memory.EventFilter{SessionID: sess.ID, Newest: true}, memory.Page{Size: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, late.ID, newest[0].ID)

	err = s.AppendEvent(ctx, &memory.Event{ID: uuid.NewString(), SessionID: "missing", Kind: memory.EventNote, CreatedAt: now})
	assert.True(t, memory.IsKind(err, memory.KindNotFound))
}

func TestAppendEventConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := newSession("claude", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AppendEvent(ctx, &memory.Event{
				ID:        uuid.NewString(),
				SessionID: sess.ID,
				Kind:      memory.EventAction,
				CreatedAt: time.Now().UTC(),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, _, err := s.ListEvents(ctx, memory.EventFilter{SessionID: sess.ID}, memory.Page{Size: memory.MaxPageSize})
	require.NoError(t, err)
	require.Len(t, events, n)
	seen := make(map[int64]bool)
	for _, e := range events {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := newSession("claude", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))
	e := &memory.Event{ID: uuid.NewString(), SessionID: sess.ID, Kind: memory.EventNote, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AppendEvent(ctx, e))
	require.NoError(t, s.SaveEmbedding(ctx, memory.EmbeddingRecord{EntityID: sess.ID, Space: memory.SpaceSessions, Model: "m", Vector: []float32{1, 0}}))
	require.NoError(t, s.SaveEmbedding(ctx, memory.EmbeddingRecord{EntityID: e.ID, Space: memory.SpaceEvents, Model: "m", Vector: []float32{0, 1}}))

	ids, err := s.DeleteSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, ids)

	_, err = s.GetEvent(ctx, e.ID)
	assert.True(t, memory.IsKind(err, memory.KindNotFound))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats["embeddings"])

	_, err = s.DeleteSession(ctx, sess.ID)
	assert.True(t, memory.IsKind(err, memory.KindNotFound))
}

func TestPatternsAndObservations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	p := &memory.Pattern{
		ID:          uuid.NewString(),
		Type:        memory.PatternSuccess,
		Domain:      "database",
		Description: "batch inserts",
		Action:      "wrap in a transaction",
		Context:     map[string]any{"db": "sqlite"},
		CreatedAt:   now,
	}
	require.NoError(t, s.CreatePattern(ctx, p))
	require.NoError(t, s.CreatePattern(ctx, &memory.Pattern{
		ID: uuid.NewString(), Type: memory.PatternFailure, Domain: "frontend",
		Description: "x", Action: "y", CreatedAt: now,
	}))

	got, err := s.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", got.Context["db"])

	list, total, err := s.ListPatterns(ctx, memory.PatternFilter{Domain: "database"}, memory.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, p.ID, list[0].ID)

	for _, r := range []int{4, 5} {
		require.NoError(t, s.CreateObservation(ctx, &memory.Observation{
			ID: uuid.NewString(), PatternID: p.ID, Rating: r, CreatedAt: now,
		}))
	}
	obs, err := s.ListObservations(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, obs, 2)

	// The CHECK constraint backs up service-level validation.
	err = s.CreateObservation(ctx, &memory.Observation{ID: uuid.NewString(), PatternID: p.ID, Rating: 6, CreatedAt: now})
	assert.Error(t, err)
}

func TestEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		p := &memory.Pattern{ID: uuid.NewString(), Type: memory.PatternOther, Description: "d", Action: "a", CreatedAt: time.Now().UTC()}
		require.NoError(t, s.CreatePattern(ctx, p))
		ids = append(ids, p.ID)
	}

	vec := []float32{0.25, -0.5, 1}
	require.NoError(t, s.SaveEmbedding(ctx, memory.EmbeddingRecord{EntityID: ids[0], Space: memory.SpacePatterns, Model: "m1", Vector: vec}))
	require.NoError(t, s.SaveEmbedding(ctx, memory.EmbeddingRecord{EntityID: ids[1], Space: memory.SpacePatterns, Model: "old", Vector: vec}))

	missing, _, err := s.MissingEmbeddings(ctx, memory.SpacePatterns, "m1", MissingCursor{}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[1:], missing)

	// Upsert replaces the stale model.
	require.NoError(t, s.SaveEmbedding(ctx, memory.EmbeddingRecord{EntityID: ids[1], Space: memory.SpacePatterns, Model: "m1", Vector: vec}))

	var recs []memory.EmbeddingRecord
	require.NoError(t, s.ListEmbeddings(ctx, memory.SpacePatterns, func(r memory.EmbeddingRecord) error {
		recs = append(recs, r)
		return nil
	}))
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "m1", r.Model)
		assert.Equal(t, vec, r.Vector)
	}

	require.NoError(t, s.DeleteEmbeddings(ctx, memory.SpacePatterns, ids[0], "unknown"))
	missing, _, err = s.MissingEmbeddings(ctx, memory.SpacePatterns, "m1", MissingCursor{}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[2]}, missing)

	_, _, err = s.MissingEmbeddings(ctx, memory.Space("bogus"), "m1", MissingCursor{}, 10)
	assert.True(t, memory.IsKind(err, memory.KindValidation))
}

func TestMissingEmbeddingsCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 5; i++ {
		p := &memory.Pattern{ID: uuid.NewString(), Type: memory.PatternOther, Description: "d", Action: "a", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.CreatePattern(ctx, p))
		ids = append(ids, p.ID)
	}

	// Pages walk newest to oldest even though nothing gets embedded.
	var seen []string
	cursor := MissingCursor{}
	for {
		page, next, err := s.MissingEmbeddings(ctx, memory.SpacePatterns, "m1", cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			assert.Equal(t, cursor, next)
			break
		}
		seen = append(seen, page...)
		cursor = next
	}
	assert.Equal(t, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, seen)
}

func TestMissingSessionEmbeddingsSkipsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bare := newSession("a", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, bare))
	withProject := newSession("a", time.Now().UTC())
	withProject.Project = "api"
	require.NoError(t, s.CreateSession(ctx, withProject))

	missing, _, err := s.MissingEmbeddings(ctx, memory.SpaceSessions, "m", MissingCursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{withProject.ID}, missing)
}

func TestVectorBlobRoundTrip(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}
	got, err := blobToFloat32s(float32sToBlob(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = blobToFloat32s([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))
}

// TestPostgres runs the shared suite against PostgreSQL when a DSN is provided.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("SESSION_MEMORY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SESSION_MEMORY_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s := NewPostgres(dsn, nil)
	require.NoError(t, s.Init(ctx))
	defer s.Close()

	sess := newSession("pg", time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))
	defer s.DeleteSession(ctx, sess.ID)

	e := &memory.Event{ID: uuid.NewString(), SessionID: sess.ID, Kind: memory.EventNote, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Seq)

	vec := []float32{1, 0, 0}
	require.NoError(t, s.SaveEmbedding(ctx, memory.EmbeddingRecord{EntityID: e.ID, Space: memory.SpaceEvents, Model: "m", Vector: vec}))
	var found bool
	require.NoError(t, s.ListEmbeddings(ctx, memory.SpaceEvents, func(r memory.EmbeddingRecord) error {
		if r.EntityID == e.ID {
			found = true
			assert.Equal(t, vec, r.Vector)
		}
		return nil
	}))
	assert.True(t, found)
}
