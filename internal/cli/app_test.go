package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/khanglvm/session-memory-mcp/internal/config"
	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
)

// testConfig returns a valid offline config rooted in a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "memory.db")
	cfg.Embedding.Dimensions = 64
	cfg.Embedding.CacheSize = 100
	cfg.Index.Backend = config.BackendFlat
	cfg.Settings.Workers = 1
	cfg.Settings.BackfillIntervalSeconds = 0
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config, opts appOptions) *app {
	t.Helper()
	a, err := openApp(context.Background(), cfg, quietLogger(), opts)
	if err != nil {
		t.Fatalf("openApp failed: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

// harvest stores a pattern and embeds it synchronously.
func harvest(t *testing.T, a *app, domain, description, action string) *memory.Pattern {
	t.Helper()
	ctx := context.Background()
	p, err := a.patterns.Harvest(ctx, pattern.HarvestRequest{
		Type: "success", Domain: domain, Description: description, Action: action,
	})
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}
	if err := a.pipeline.Process(ctx, enrichment.Job{Space: memory.SpacePatterns, ID: p.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return p
}

func TestOpenAppWarmRebuildsIndexes(t *testing.T) {
	cfg := testConfig(t)

	first, err := openApp(context.Background(), cfg, quietLogger(), appOptions{})
	if err != nil {
		t.Fatalf("openApp failed: %v", err)
	}
	harvest(t, first, "database", "slow report query on orders table", "add composite index on (customer_id, created_at)")
	first.close()

	cold := newTestApp(t, cfg, appOptions{})
	if n := cold.index.Len(memory.SpacePatterns); n != 0 {
		t.Errorf("Expected empty index without warm start, got %d", n)
	}

	warm := newTestApp(t, cfg, appOptions{warm: true})
	if n := warm.index.Len(memory.SpacePatterns); n != 1 {
		t.Errorf("Expected 1 vector after warm start, got %d", n)
	}
	count, err := warm.keywords.Count(memory.SpacePatterns)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 keyword document after warm start, got %d", count)
	}
}

func TestOpenAppIndexBackends(t *testing.T) {
	for _, backend := range []string{config.BackendFlat, config.BackendIVF, config.BackendChromem} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Index.Backend = backend
			a := newTestApp(t, cfg, appOptions{})

			harvest(t, a, "testing", "flaky integration test on CI", "isolate the shared fixture per test")
			if n := a.index.Len(memory.SpacePatterns); n != 1 {
				t.Errorf("Expected 1 vector in %s index, got %d", backend, n)
			}
		})
	}
}

func TestOpenAppRejectsPGVectorOnSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Backend = config.BackendPGVector

	// Validation catches this first; openApp must fail too when called directly.
	if _, err := openApp(context.Background(), cfg, quietLogger(), appOptions{}); err == nil {
		t.Error("Expected error for pgvector on sqlite")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Settings{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["msg"] != "shown" || entry["key"] != "value" {
		t.Errorf("Unexpected log entry: %v", entry)
	}

	buf.Reset()
	newLogger(&config.Settings{LogLevel: "bogus", LogFormat: "text"}, &buf).Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("Expected text output at info level, got %q", buf.String())
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(testConfig(t), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	t.Setenv("SESSION_MEMORY_WORKERS", "3")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Settings.Workers != 3 {
		t.Errorf("Expected environment override of workers, got %d", cfg.Settings.Workers)
	}
	if cfg.Index.Backend != config.BackendFlat {
		t.Errorf("Expected backend from file, got %q", cfg.Index.Backend)
	}

	t.Setenv("SESSION_MEMORY_LOG_FORMAT", "xml")
	if _, err := loadConfig(path); err == nil {
		t.Error("Expected validation error for bad log format")
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for an explicit missing config file")
	}
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()

	want := []string{"serve", "init", "doctor", "sessions", "patterns", "backfill", "export", "benchmark", "version"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Subcommand %q not registered", name)
		}
	}

	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("Flag 'config' not registered")
	}
}

func TestServeCommandHelp(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"serve", "--help"})

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() with --help failed: %v", err)
	}

	for _, expected := range []string{"serve", "stdio", "manage_session", "search_memory", "--metrics-addr"} {
		if !strings.Contains(buf.String(), expected) {
			t.Errorf("Help output missing %q", expected)
		}
	}
}
