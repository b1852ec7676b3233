package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/khanglvm/session-memory-mcp/internal/config"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
)

// ExportRecord is one line of an export file.
type ExportRecord struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Record types in an export.
const (
	recordSession     = "session"
	recordEvent       = "event"
	recordPattern     = "pattern"
	recordObservation = "observation"
)

// NewExportCmd creates the export command.
func NewExportCmd(configPath *string) *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export sessions, events and patterns for grep/jq",
		Long: `Write every session, event, pattern and observation to a file for
offline grep/jq searching or backup. Embeddings are not exported; they are
rebuilt by 'backfill' after an import.

Default output: ~/.session-memory-mcp/export.jsonl
Default format: JSONL (one {"type", "data"} record per line)`,
		Example: `  # Export to default location
  session-memory-mcp export

  # Export as JSON array
  session-memory-mcp export --format json

  # Custom output path
  session-memory-mcp export --output ./memory.jsonl

Grep usage examples:
  # Failure patterns in the database domain
  jq -c 'select(.type=="pattern" and .data.domain=="database" and .data.type=="failure")' export.jsonl

  # Errors logged by one agent's sessions
  grep '"type":"event"' export.jsonl | jq -r 'select(.data.kind=="error") | .data.data'

  # Count events per session
  jq -r 'select(.type=="event") | .data.session_id' export.jsonl | sort | uniq -c`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "jsonl" {
				return fmt.Errorf("unknown format %q (use json or jsonl)", format)
			}
			if output == "" {
				ext := ".jsonl"
				if format == "json" {
					ext = ".json"
				}
				output = filepath.Join(config.DataDir(), "export"+ext)
			}

			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			n, err := runExport(commandContext(cmd), a.store, output, format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d records to %s\n", n, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "jsonl", "Output format: json or jsonl")
	cmd.Flags().StringVar(&output, "output", "", "Output path (default: ~/.session-memory-mcp/export.jsonl)")

	return cmd
}

// runExport writes every record in store to path and returns the record count.
func runExport(ctx context.Context, store storage.Storage, path, format string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Acquire file lock to prevent concurrent writes
	lockFile, err := acquireFileLock(path)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	defer releaseFileLock(lockFile)

	// Write next to the target and rename, so readers never see half a file.
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	w := newRecordWriter(file, format)
	n, err := exportAll(ctx, store, w.write)
	if err == nil {
		err = w.close()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return n, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return n, fmt.Errorf("failed to move export into place: %w", err)
	}
	return n, nil
}

// exportAll streams every record in store to emit, page by page.
func exportAll(ctx context.Context, store storage.Storage, emit func(ExportRecord) error) (int, error) {
	count := 0
	send := func(typ string, v interface{}) error {
		count++
		return emit(ExportRecord{Type: typ, Data: v})
	}

	err := eachPage(func(p memory.Page) (int, int, error) {
		sessions, total, err := store.ListSessions(ctx, memory.SessionFilter{}, p)
		if err != nil {
			return 0, 0, err
		}
		for _, s := range sessions {
			if err := send(recordSession, s); err != nil {
				return 0, 0, err
			}
			if err := eachPage(func(ep memory.Page) (int, int, error) {
				events, total, err := store.ListEvents(ctx, memory.EventFilter{SessionID: s.ID}, ep)
				if err != nil {
					return 0, 0, err
				}
				for _, e := range events {
					if err := send(recordEvent, e); err != nil {
						return 0, 0, err
					}
				}
				return len(events), total, nil
			}); err != nil {
				return 0, 0, err
			}
		}
		return len(sessions), total, nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to export sessions: %w", err)
	}

	err = eachPage(func(p memory.Page) (int, int, error) {
		patterns, total, err := store.ListPatterns(ctx, memory.PatternFilter{}, p)
		if err != nil {
			return 0, 0, err
		}
		for _, pt := range patterns {
			if err := send(recordPattern, pt); err != nil {
				return 0, 0, err
			}
			obs, err := store.ListObservations(ctx, pt.ID)
			if err != nil {
				return 0, 0, err
			}
			for _, o := range obs {
				if err := send(recordObservation, o); err != nil {
					return 0, 0, err
				}
			}
		}
		return len(patterns), total, nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to export patterns: %w", err)
	}
	return count, nil
}

// eachPage calls fetch with successive full-size pages until every row was seen.
// fetch returns the rows on its page and the total number of rows.
func eachPage(fetch func(memory.Page) (int, int, error)) error {
	seen := 0
	for page := 1; ; page++ {
		n, total, err := fetch(memory.Page{Number: page, Size: memory.MaxPageSize})
		if err != nil {
			return err
		}
		seen += n
		if n == 0 || seen >= total {
			return nil
		}
	}
}

// recordWriter encodes records as JSON lines or as one JSON array.
type recordWriter struct {
	w       io.Writer
	enc     *json.Encoder
	array   bool
	written int
}

func newRecordWriter(w io.Writer, format string) *recordWriter {
	return &recordWriter{w: w, enc: json.NewEncoder(w), array: format == "json"}
}

func (r *recordWriter) write(rec ExportRecord) error {
	if r.array {
		sep := ",\n  "
		if r.written == 0 {
			sep = "[\n  "
		}
		if _, err := io.WriteString(r.w, sep); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", rec.Type, err)
		}
		if _, err := r.w.Write(data); err != nil {
			return err
		}
	} else if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.Type, err)
	}
	r.written++
	return nil
}

func (r *recordWriter) close() error {
	if !r.array {
		return nil
	}
	end := "\n]\n"
	if r.written == 0 {
		end = "[]\n"
	}
	_, err := io.WriteString(r.w, end)
	return err
}

// acquireFileLock acquires an exclusive lock on the export file.
func acquireFileLock(path string) (*os.File, error) {
	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	// Try to acquire exclusive lock (non-blocking)
	err = unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("failed to acquire lock (another export in progress?): %w", err)
	}

	return lockFile, nil
}

// releaseFileLock releases the file lock and removes the lock file.
func releaseFileLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}

	lockPath := lockFile.Name()

	unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
	lockFile.Close()

	return os.Remove(lockPath)
}
