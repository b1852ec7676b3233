package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLStore implements Storage on top of database/sql. The dialect carries
// everything that differs between SQLite and PostgreSQL.
type SQLStore struct {
	db       *sql.DB
	dsn      string
	dialect  *dialect
	logger   *slog.Logger
	initOnce sync.Once
	initErr  error
}

var _ Storage = (*SQLStore)(nil)

// DefaultPath returns ~/.session-memory-mcp/memory.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".session-memory-mcp", "memory.db"), nil
}

// NewSQLite creates a SQLite-backed store at path. Call Init before use.
func NewSQLite(path string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		dsn:     path,
		dialect: sqliteDialect,
		logger:  logger.With("component", "storage", "driver", "sqlite"),
	}
}

// Init opens the database and runs migrations. It is safe to call more than once.
func (s *SQLStore) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.open(ctx)
	})
	return s.initErr
}

func (s *SQLStore) open(ctx context.Context) error {
	dsn := s.dsn
	if s.dialect == sqliteDialect {
		if err := os.MkdirAll(filepath.Dir(s.dsn), 0o755); err != nil {
			return errors.Wrap(err, "failed to create db directory")
		}
		dsn = sqliteDSN(s.dsn)
	}

	db, err := sql.Open(s.dialect.driver, dsn)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "failed to ping database")
	}
	s.db = db

	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		s.db = nil
		return errors.Wrap(err, "failed to run migrations")
	}
	return nil
}

// sqliteDSN enables WAL so readers never block the writer, waits on a busy
// database instead of failing, and takes the write lock at BEGIN so that
// read-then-write transactions cannot deadlock on upgrade.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Driver names the backend.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// DB exposes the underlying handle for components that query it directly
// (the pgvector index).
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	s.db = nil
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *SQLStore) ready() error {
	if s.db == nil {
		return errors.New("storage not initialized")
	}
	return nil
}

// whereBuilder accumulates AND-combined predicates.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// in restricts col to ids. A non-nil empty slice matches nothing.
func (w *whereBuilder) in(col string, ids []string) {
	if ids == nil {
		return
	}
	if len(ids) == 0 {
		w.add("1 = 0")
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	w.add(col+" IN ("+marks+")", args...)
}

func (w *whereBuilder) timeRange(col string, after, before time.Time) {
	if !after.IsZero() {
		w.add(col+" >= ?", toTS(after))
	}
	if !before.IsZero() {
		w.add(col+" <= ?", toTS(before))
	}
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func toTS(t time.Time) int64 {
	return t.UnixNano()
}

func fromTS(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) count(ctx context.Context, table string, w *whereBuilder) (int, error) {
	var total int
	row := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM "+table+w.String()), w.args...)
	if err := row.Scan(&total); err != nil {
		return 0, errors.Wrapf(err, "failed to count %s", table)
	}
	return total, nil
}

// Stats returns row counts per table.
func (s *SQLStore) Stats(ctx context.Context) (map[string]int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	stats := make(map[string]int)
	for _, table := range []string{"sessions", "events", "patterns", "observations", "embeddings"} {
		n, err := s.count(ctx, table, &whereBuilder{})
		if err != nil {
			return nil, err
		}
		stats[table] = n
	}
	return stats, nil
}
