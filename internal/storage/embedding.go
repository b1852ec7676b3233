package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// SaveEmbedding stores or replaces the vector of an entity in a space.
func (s *SQLStore) SaveEmbedding(ctx context.Context, rec memory.EmbeddingRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO embeddings (space, entity_id, model, vector, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (space, entity_id) DO UPDATE SET
			model = excluded.model,
			vector = excluded.vector,
			updated_ts = excluded.updated_ts
	`),
		string(rec.Space),
		rec.EntityID,
		rec.Model,
		s.dialect.vectorArg(rec.Vector),
		toTS(rec.UpdatedAt),
	)
	return errors.Wrap(err, "failed to save embedding")
}

// ListEmbeddings streams every stored vector of a space to fn.
func (s *SQLStore) ListEmbeddings(ctx context.Context, space memory.Space, fn func(memory.EmbeddingRecord) error) error {
	if err := s.ready(); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT entity_id, model, vector, updated_ts
		FROM embeddings
		WHERE space = ?
	`), string(space))
	if err != nil {
		return errors.Wrap(err, "failed to list embeddings")
	}
	defer rows.Close()

	for rows.Next() {
		rec := memory.EmbeddingRecord{Space: space}
		dest, decode := s.dialect.vectorDest()
		var updated int64
		if err := rows.Scan(&rec.EntityID, &rec.Model, dest, &updated); err != nil {
			return errors.Wrap(err, "failed to scan embedding")
		}
		if rec.Vector, err = decode(); err != nil {
			return err
		}
		rec.UpdatedAt = fromTS(updated)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteEmbeddings removes vectors; unknown ids are ignored.
func (s *SQLStore) DeleteEmbeddings(ctx context.Context, space memory.Space, ids ...string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	w := &whereBuilder{}
	w.add("space = ?", string(space))
	w.in("entity_id", ids)
	_, err := s.db.ExecContext(ctx, s.q("DELETE FROM embeddings"+w.String()), w.args...)
	return errors.Wrap(err, "failed to delete embeddings")
}

// MissingCursor is a position in the newest-first scan of MissingEmbeddings.
// The zero value starts at the newest entity.
type MissingCursor struct {
	CreatedTS int64
	ID        string
}

// missingQueries select entities lacking a vector for a model. Sessions with
// nothing to embed yet (no summary, project or context) are skipped. The
// %s slot takes the cursor predicate.
var missingQueries = map[memory.Space]string{
	memory.SpaceSessions: `
		SELECT t.id, t.created_ts FROM sessions t
		LEFT JOIN embeddings e ON e.space = 'sessions' AND e.entity_id = t.id AND e.model = ?
		WHERE e.entity_id IS NULL
			AND (t.summary IS NOT NULL OR t.project <> '' OR t.context <> '')%s
		ORDER BY t.created_ts DESC, t.id DESC
		LIMIT ?`,
	memory.SpaceEvents: `
		SELECT t.id, t.created_ts FROM events t
		LEFT JOIN embeddings e ON e.space = 'events' AND e.entity_id = t.id AND e.model = ?
		WHERE e.entity_id IS NULL%s
		ORDER BY t.created_ts DESC, t.id DESC
		LIMIT ?`,
	memory.SpacePatterns: `
		SELECT t.id, t.created_ts FROM patterns t
		LEFT JOIN embeddings e ON e.space = 'patterns' AND e.entity_id = t.id AND e.model = ?
		WHERE e.entity_id IS NULL%s
		ORDER BY t.created_ts DESC, t.id DESC
		LIMIT ?`,
}

const missingAfter = `
			AND (t.created_ts < ? OR (t.created_ts = ? AND t.id < ?))`

// MissingEmbeddings returns ids in space with no vector produced by model,
// strictly older than after, and the cursor to continue from.
func (s *SQLStore) MissingEmbeddings(ctx context.Context, space memory.Space, model string, after MissingCursor, limit int) ([]string, MissingCursor, error) {
	if err := s.ready(); err != nil {
		return nil, after, err
	}
	query, ok := missingQueries[space]
	if !ok {
		return nil, after, memory.Validation("space", "unknown vector space %q", space)
	}
	if limit <= 0 {
		limit = 100
	}

	args := []any{model}
	if after.ID == "" {
		query = fmt.Sprintf(query, "")
	} else {
		query = fmt.Sprintf(query, missingAfter)
		args = append(args, after.CreatedTS, after.CreatedTS, after.ID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, after, errors.Wrap(err, "failed to find entities without embedding")
	}
	defer rows.Close()

	var ids []string
	next := after
	for rows.Next() {
		if err := rows.Scan(&next.ID, &next.CreatedTS); err != nil {
			return nil, after, errors.Wrap(err, "failed to scan id")
		}
		ids = append(ids, next.ID)
	}
	return ids, next, rows.Err()
}
