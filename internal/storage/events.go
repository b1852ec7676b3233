package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

const eventColumns = "id, session_id, seq, kind, sub_kind, data, metadata, created_ts"

// AppendEvent stores e as the next event of its session. Seq is set to one past
// the session's current maximum, and CreatedAt is raised to the previous event's
// timestamp if the clock went backwards, so (created_at, seq) order is stable.
func (s *SQLStore) AppendEvent(ctx context.Context, e *memory.Event) error {
	if err := s.ready(); err != nil {
		return err
	}

	dataJSON, err := encodeMap(e.Data)
	if err != nil {
		return memory.Validation("data", "event data is not JSON-encodable: %v", err)
	}
	metadataJSON, err := encodeMap(e.Metadata)
	if err != nil {
		return memory.Validation("metadata", "metadata is not JSON-encodable: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q("SELECT 1 FROM sessions WHERE id = ?"), e.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.NotFound("session", e.SessionID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to check session")
	}

	var lastSeq, lastTS int64
	err = tx.QueryRowContext(ctx,
		s.q("SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_ts), 0) FROM events WHERE session_id = ?"),
		e.SessionID,
	).Scan(&lastSeq, &lastTS)
	if err != nil {
		return errors.Wrap(err, "failed to read event sequence")
	}

	e.Seq = lastSeq + 1
	if toTS(e.CreatedAt) < lastTS {
		e.CreatedAt = fromTS(lastTS)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		e.ID,
		e.SessionID,
		e.Seq,
		string(e.Kind),
		e.SubKind,
		dataJSON,
		metadataJSON,
		toTS(e.CreatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert event")
	}

	return errors.Wrap(tx.Commit(), "failed to commit event")
}

// GetEvent returns the event with id or a NotFound error.
func (s *SQLStore) GetEvent(ctx context.Context, id string) (*memory.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, s.q("SELECT "+eventColumns+" FROM events WHERE id = ?"), id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFound("event", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event")
	}
	return e, nil
}

// ListEvents returns one page of events in logged order, and the total.
// Events of a single session come back by (created_at, seq); across sessions
// they are ordered by time first.
func (s *SQLStore) ListEvents(ctx context.Context, f memory.EventFilter, p memory.Page) ([]*memory.Event, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}

	w := &whereBuilder{}
	if f.SessionID != "" {
		w.add("session_id = ?", f.SessionID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		w.in("kind", kinds)
	}
	w.timeRange("created_ts", f.CreatedAfter, f.CreatedBefore)
	w.in("id", f.IDs)

	total, err := s.count(ctx, "events", w)
	if err != nil {
		return nil, 0, err
	}

	order := " ORDER BY created_ts ASC, seq ASC"
	if f.Newest {
		order = " ORDER BY created_ts DESC, seq DESC"
	}

	p = p.Normalize()
	args := append(append([]any{}, w.args...), p.Size, p.Offset())
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+eventColumns+" FROM events"+w.String()+order+" LIMIT ? OFFSET ?"),
		args...,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	list := []*memory.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan event")
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func scanEvent(row rowScanner) (*memory.Event, error) {
	var (
		e                  memory.Event
		kind               string
		dataJSON, metaJSON string
		created            int64
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.Seq, &kind, &e.SubKind, &dataJSON, &metaJSON, &created); err != nil {
		return nil, err
	}
	e.Kind = memory.EventKind(kind)
	var err error
	if e.Data, err = decodeMap(dataJSON); err != nil {
		return nil, err
	}
	if e.Metadata, err = decodeMap(metaJSON); err != nil {
		return nil, err
	}
	e.CreatedAt = fromTS(created)
	return &e, nil
}
