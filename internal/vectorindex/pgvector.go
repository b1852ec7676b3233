package vectorindex

import (
	"context"
	"database/sql"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// PGVector searches the PostgreSQL embeddings table with pgvector's cosine
// distance operator. The table is shared with storage, so the index needs no
// rebuild after a restart. Rows left by other models stay in the table but are
// never matched.
type PGVector struct {
	db    *sql.DB
	model string
}

var _ Index = (*PGVector)(nil)

// NewPGVector creates an index over db, which must have the storage schema,
// serving vectors produced by model.
func NewPGVector(db *sql.DB, model string) *PGVector {
	return &PGVector{db: db, model: model}
}

func (p *PGVector) Upsert(ctx context.Context, space memory.Space, id string, vec []float32, model string) error {
	if !space.Valid() {
		return memory.Validation("space", "unknown vector space %q", space)
	}
	if model != p.model {
		return errors.Wrapf(ErrModelMismatch, "space %s serves %q, got %q", space, p.model, model)
	}
	norm, err := validateVector(vec, 0)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO embeddings (space, entity_id, model, vector, updated_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (space, entity_id) DO UPDATE SET
			model = excluded.model,
			vector = excluded.vector,
			updated_ts = excluded.updated_ts
	`, string(space), id, model, pgvector.NewVector(norm), time.Now().UnixNano())
	return errors.Wrap(err, "upsert vector")
}

func (p *PGVector) Query(ctx context.Context, space memory.Space, vec []float32, opts QueryOptions) ([]Match, error) {
	query, err := validateVector(vec, 0)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT entity_id, 1 - (vector <=> $1) AS similarity
		FROM embeddings
		WHERE space = $2 AND model = $3 AND 1 - (vector <=> $1) >= $4
		ORDER BY vector <=> $1, entity_id
		LIMIT $5
	`, pgvector.NewVector(query), string(space), p.model, opts.MinSimilarity-similarityEpsilon, limitOf(opts))
	if err != nil {
		if ctx.Err() != nil {
			return []Match{}, ErrPartial
		}
		return nil, errors.Wrap(err, "vector search")
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Similarity); err != nil {
			return nil, errors.Wrap(err, "scan match")
		}
		m.Similarity = clamp(m.Similarity)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return matches, ErrPartial
		}
		return nil, err
	}
	return matches, nil
}

func (p *PGVector) Delete(ctx context.Context, space memory.Space, id string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM embeddings WHERE space = $1 AND entity_id = $2", string(space), id)
	return errors.Wrap(err, "delete vector")
}

func (p *PGVector) Len(space memory.Space) int {
	var n int
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings WHERE space = $1 AND model = $2", string(space), p.model).Scan(&n); err != nil {
		return 0
	}
	return n
}
