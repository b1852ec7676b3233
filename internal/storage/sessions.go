package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

const sessionColumns = "id, agent, project, summary, context, metadata, created_ts, ended_ts"

// CreateSession inserts a new session.
func (s *SQLStore) CreateSession(ctx context.Context, sess *memory.Session) error {
	if err := s.ready(); err != nil {
		return err
	}

	contextJSON, err := encodeMap(sess.Context)
	if err != nil {
		return memory.Validation("context", "context is not JSON-encodable: %v", err)
	}
	metadataJSON, err := encodeMap(sess.Metadata)
	if err != nil {
		return memory.Validation("metadata", "metadata is not JSON-encodable: %v", err)
	}

	var ended sql.NullInt64
	if sess.EndedAt != nil {
		ended = sql.NullInt64{Int64: toTS(*sess.EndedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		sess.ID,
		sess.Agent,
		sess.Project,
		nullString(sess.Summary),
		contextJSON,
		metadataJSON,
		toTS(sess.CreatedAt),
		ended,
	)
	return errors.Wrap(err, "failed to insert session")
}

// GetSession returns the session with id or a NotFound error.
func (s *SQLStore) GetSession(ctx context.Context, id string) (*memory.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, s.q("SELECT "+sessionColumns+" FROM sessions WHERE id = ?"), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFound("session", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	return sess, nil
}

// UpdateSession applies a partial update to summary, context and metadata.
// Timestamps are never touched on this path.
func (s *SQLStore) UpdateSession(ctx context.Context, id string, u SessionUpdate) (*memory.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	sets, args, err := sessionUpdateSets(u)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return s.GetSession(ctx, id)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, s.q("UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, memory.NotFound("session", id)
	}
	return s.GetSession(ctx, id)
}

// EndSession sets ended_ts once. A second call fails with AlreadyEnded.
func (s *SQLStore) EndSession(ctx context.Context, id string, endedAt time.Time, u SessionUpdate) (*memory.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	sets, args, err := sessionUpdateSets(u)
	if err != nil {
		return nil, err
	}
	sets = append([]string{"ended_ts = ?"}, sets...)
	args = append([]any{toTS(endedAt)}, args...)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		s.q("UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ? AND ended_ts IS NULL"),
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to end session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, memory.AlreadyEnded(id)
	}
	return s.GetSession(ctx, id)
}

func sessionUpdateSets(u SessionUpdate) ([]string, []any, error) {
	var sets []string
	var args []any
	if u.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *u.Summary)
	}
	if u.Context != nil {
		data, err := encodeMap(u.Context)
		if err != nil {
			return nil, nil, memory.Validation("context", "context is not JSON-encodable: %v", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, data)
	}
	if u.Metadata != nil {
		data, err := encodeMap(u.Metadata)
		if err != nil {
			return nil, nil, memory.Validation("metadata", "metadata is not JSON-encodable: %v", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, data)
	}
	return sets, args, nil
}

// DeleteSession removes a session together with its events and their vectors.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.q("SELECT id FROM events WHERE session_id = ?"), id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list session events")
	}
	var eventIDs []string
	for rows.Next() {
		var eventID string
		if err := rows.Scan(&eventID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan event id")
		}
		eventIDs = append(eventIDs, eventID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM events WHERE session_id = ?"), id); err != nil {
		return nil, errors.Wrap(err, "failed to delete events")
	}
	res, err := tx.ExecContext(ctx, s.q("DELETE FROM sessions WHERE id = ?"), id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, memory.NotFound("session", id)
	}

	if _, err := tx.ExecContext(ctx,
		s.q("DELETE FROM embeddings WHERE space = ? AND entity_id = ?"),
		string(memory.SpaceSessions), id,
	); err != nil {
		return nil, errors.Wrap(err, "failed to delete session embedding")
	}
	if len(eventIDs) > 0 {
		w := &whereBuilder{}
		w.add("space = ?", string(memory.SpaceEvents))
		w.in("entity_id", eventIDs)
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM embeddings"+w.String()), w.args...); err != nil {
			return nil, errors.Wrap(err, "failed to delete event embeddings")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit session delete")
	}
	return eventIDs, nil
}

// ListSessions returns one page of sessions matching f, newest first, and the total.
func (s *SQLStore) ListSessions(ctx context.Context, f memory.SessionFilter, p memory.Page) ([]*memory.Session, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}

	w := &whereBuilder{}
	if f.Agent != "" {
		w.add("agent = ?", f.Agent)
	}
	if f.Project != "" {
		w.add("project = ?", f.Project)
	}
	switch f.Status {
	case memory.StatusActive:
		w.add("ended_ts IS NULL")
	case memory.StatusEnded:
		w.add("ended_ts IS NOT NULL")
	}
	w.timeRange("created_ts", f.CreatedAfter, f.CreatedBefore)
	w.in("id", f.IDs)

	total, err := s.count(ctx, "sessions", w)
	if err != nil {
		return nil, 0, err
	}

	p = p.Normalize()
	args := append(append([]any{}, w.args...), p.Size, p.Offset())
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+sessionColumns+" FROM sessions"+w.String()+" ORDER BY created_ts DESC, id DESC LIMIT ? OFFSET ?"),
		args...,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	list := []*memory.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan session")
		}
		list = append(list, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func scanSession(row rowScanner) (*memory.Session, error) {
	var (
		sess                  memory.Session
		summary               sql.NullString
		contextJSON, metaJSON string
		created               int64
		ended                 sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.Agent, &sess.Project, &summary, &contextJSON, &metaJSON, &created, &ended); err != nil {
		return nil, err
	}
	if summary.Valid {
		v := summary.String
		sess.Summary = &v
	}
	var err error
	if sess.Context, err = decodeMap(contextJSON); err != nil {
		return nil, err
	}
	if sess.Metadata, err = decodeMap(metaJSON); err != nil {
		return nil, err
	}
	sess.CreatedAt = fromTS(created)
	if ended.Valid {
		t := fromTS(ended.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// encodeMap serializes a key-value map; empty maps become the empty string.
func encodeMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode json column")
	}
	return m, nil
}
