package storage

import (
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
)

// NewPostgres creates a PostgreSQL-backed store. The database must allow
// CREATE EXTENSION vector (pgvector). Call Init before use.
func NewPostgres(dsn string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		dsn:     dsn,
		dialect: postgresDialect,
		logger:  logger.With("component", "storage", "driver", "postgres"),
	}
}

// rebind rewrites ? placeholders into PostgreSQL's $n form.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}
