package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

const patternColumns = "id, type, sub_type, domain, description, action, outcome, context, created_by, session_id, created_ts"

// CreatePattern inserts a pattern. Patterns are never updated or deleted.
func (s *SQLStore) CreatePattern(ctx context.Context, p *memory.Pattern) error {
	if err := s.ready(); err != nil {
		return err
	}

	contextJSON, err := encodeMap(p.Context)
	if err != nil {
		return memory.Validation("context", "context is not JSON-encodable: %v", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		p.ID,
		string(p.Type),
		p.SubType,
		p.Domain,
		p.Description,
		p.Action,
		p.Outcome,
		contextJSON,
		p.CreatedBy,
		p.SessionID,
		toTS(p.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert pattern")
}

// GetPattern returns the pattern with id or a NotFound error.
func (s *SQLStore) GetPattern(ctx context.Context, id string) (*memory.Pattern, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, s.q("SELECT "+patternColumns+" FROM patterns WHERE id = ?"), id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFound("pattern", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pattern")
	}
	return p, nil
}

// ListPatterns returns one page of patterns matching f, newest first, and the total.
func (s *SQLStore) ListPatterns(ctx context.Context, f memory.PatternFilter, p memory.Page) ([]*memory.Pattern, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}

	w := &whereBuilder{}
	if f.Domain != "" {
		w.add("domain = ?", f.Domain)
	}
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if f.CreatedBy != "" {
		w.add("created_by = ?", f.CreatedBy)
	}
	w.timeRange("created_ts", f.CreatedAfter, f.CreatedBefore)
	w.in("id", f.IDs)

	total, err := s.count(ctx, "patterns", w)
	if err != nil {
		return nil, 0, err
	}

	p = p.Normalize()
	args := append(append([]any{}, w.args...), p.Size, p.Offset())
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+patternColumns+" FROM patterns"+w.String()+" ORDER BY created_ts DESC, id DESC LIMIT ? OFFSET ?"),
		args...,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list patterns")
	}
	defer rows.Close()

	list := []*memory.Pattern{}
	for rows.Next() {
		pat, err := scanPattern(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan pattern")
		}
		list = append(list, pat)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// CreateObservation inserts an observation. The rating CHECK constraint is a
// backstop; callers validate the range first.
func (s *SQLStore) CreateObservation(ctx context.Context, o *memory.Observation) error {
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO observations (id, pattern_id, session_id, rating, feedback, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`),
		o.ID,
		o.PatternID,
		o.SessionID,
		o.Rating,
		o.Feedback,
		toTS(o.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert observation")
}

// ListObservations returns every observation of a pattern, oldest first.
func (s *SQLStore) ListObservations(ctx context.Context, patternID string) ([]*memory.Observation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, pattern_id, session_id, rating, feedback, created_ts
		FROM observations
		WHERE pattern_id = ?
		ORDER BY created_ts ASC
	`), patternID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list observations")
	}
	defer rows.Close()

	list := []*memory.Observation{}
	for rows.Next() {
		var o memory.Observation
		var created int64
		if err := rows.Scan(&o.ID, &o.PatternID, &o.SessionID, &o.Rating, &o.Feedback, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan observation")
		}
		o.CreatedAt = fromTS(created)
		list = append(list, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func scanPattern(row rowScanner) (*memory.Pattern, error) {
	var (
		p           memory.Pattern
		typ         string
		contextJSON string
		created     int64
	)
	if err := row.Scan(&p.ID, &typ, &p.SubType, &p.Domain, &p.Description, &p.Action, &p.Outcome,
		&contextJSON, &p.CreatedBy, &p.SessionID, &created); err != nil {
		return nil, err
	}
	p.Type = memory.PatternType(typ)
	var err error
	if p.Context, err = decodeMap(contextJSON); err != nil {
		return nil, err
	}
	p.CreatedAt = fromTS(created)
	return &p, nil
}
