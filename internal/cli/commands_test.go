package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/benchmark"
	"github.com/khanglvm/session-memory-mcp/internal/config"
	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
	"github.com/khanglvm/session-memory-mcp/internal/session"
	"github.com/khanglvm/session-memory-mcp/internal/version"
)

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	opts := initOptions{driver: config.DriverSQLite, provider: config.ProviderHash, backend: config.BackendIVF, dims: 384}

	var out bytes.Buffer
	if err := runInit(path, opts, &out); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if !strings.Contains(out.String(), "✓ Wrote") || !strings.Contains(out.String(), "doctor") {
		t.Errorf("Unexpected output: %s", out.String())
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("Expected 384 dimensions, got %d", cfg.Embedding.Dimensions)
	}

	// A second run needs --force.
	err = runInit(path, opts, &out)
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("Expected --force hint, got %v", err)
	}
	opts.force = true
	if err := runInit(path, opts, &out); err != nil {
		t.Fatalf("runInit with force failed: %v", err)
	}
}

func TestRunInitKeepsKeyOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("OPENAI_API_KEY", "sk-test-secret")

	opts := initOptions{driver: config.DriverSQLite, provider: config.ProviderOpenAI, backend: config.BackendFlat}
	if err := runInit(path, opts, &bytes.Buffer{}); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(data), "sk-test-secret") {
		t.Error("API key must not be written to the config file")
	}
	if !strings.Contains(string(data), `"openai"`) {
		t.Errorf("Expected openai provider in file:\n%s", data)
	}
}

func TestRunInitRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	opts := initOptions{driver: config.DriverPostgres, provider: config.ProviderHash, backend: config.BackendIVF}

	err := runInit(path, opts, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "storage.dsn") {
		t.Errorf("Expected dsn validation error, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("Invalid config must not be written")
	}
}

func TestSessionsCommands(t *testing.T) {
	a := newTestApp(t, testConfig(t), appOptions{})
	ctx := context.Background()

	var out bytes.Buffer
	if err := runSessionsList(ctx, a.sessions, sessionListOptions{}, &out); err != nil {
		t.Fatalf("runSessionsList failed: %v", err)
	}
	if !strings.Contains(out.String(), "No sessions recorded.") {
		t.Errorf("Expected empty message, got %q", out.String())
	}

	s, err := a.sessions.Create(ctx, session.CreateRequest{Agent: "claude", Project: "billing"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, kind := range []string{"task-started", "code-change", "task-completed"} {
		if _, err := a.sessions.LogEvent(ctx, session.LogEventRequest{
			SessionID: s.ID, Kind: kind, Data: map[string]any{"file": "invoice.go"},
		}); err != nil {
			t.Fatalf("LogEvent failed: %v", err)
		}
	}
	summary := "optimized invoice totals"
	if _, err := a.sessions.End(ctx, s.ID, session.EndRequest{Summary: &summary}); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	out.Reset()
	if err := runSessionsList(ctx, a.sessions, sessionListOptions{agent: "claude", status: "ended"}, &out); err != nil {
		t.Fatalf("runSessionsList failed: %v", err)
	}
	for _, want := range []string{s.ID, "claude", "billing", "optimized invoice totals", "ended"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("List output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := runSessionsList(ctx, a.sessions, sessionListOptions{status: "paused"}, &out); !memory.IsKind(err, memory.KindValidation) {
		t.Errorf("Expected validation error for unknown status, got %v", err)
	}

	out.Reset()
	if err := runSessionsShow(ctx, a.sessions, s.ID, false, &out); err != nil {
		t.Fatalf("runSessionsShow failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Events (3):") {
		t.Errorf("Expected 3 events:\n%s", text)
	}
	started := strings.Index(text, "task-started")
	completed := strings.Index(text, "task-completed")
	if started < 0 || completed < 0 || started > completed {
		t.Errorf("Events not in logged order:\n%s", text)
	}

	out.Reset()
	if err := runSessionsShow(ctx, a.sessions, s.ID, true, &out); err != nil {
		t.Fatalf("runSessionsShow --json failed: %v", err)
	}
	var decoded struct {
		Session memory.Session  `json:"session"`
		Events  []*memory.Event `json:"events"`
	}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if decoded.Session.ID != s.ID || len(decoded.Events) != 3 || decoded.Events[2].Seq != 3 {
		t.Errorf("Unexpected JSON output: %+v", decoded)
	}

	if err := runSessionsShow(ctx, a.sessions, "missing", false, &out); !memory.IsKind(err, memory.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestPatternsCommands(t *testing.T) {
	a := newTestApp(t, testConfig(t), appOptions{})
	ctx := context.Background()

	db := harvest(t, a, "database", "slow report query on orders table", "add composite index on (customer_id, created_at)")
	harvest(t, a, "frontend", "layout shift when images load", "reserve space with explicit width and height")

	if _, err := a.patterns.Observe(ctx, pattern.ObserveRequest{PatternID: db.ID, Rating: 5, Feedback: "query went from 4s to 30ms"}); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	var out bytes.Buffer
	if err := runPatternsList(ctx, a.patterns, memory.PatternFilter{Domain: "Database"}, memory.Page{}, false, &out); err != nil {
		t.Fatalf("runPatternsList failed: %v", err)
	}
	if !strings.Contains(out.String(), db.ID) || strings.Contains(out.String(), "layout shift") {
		t.Errorf("Domain filter not applied:\n%s", out.String())
	}

	out.Reset()
	if err := runPatternsShow(ctx, a.patterns, db.ID, false, &out); err != nil {
		t.Fatalf("runPatternsShow failed: %v", err)
	}
	for _, want := range []string{"Effectiveness:", "1 observations", "5/5", "4s to 30ms"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Show output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	err := runPatternsSearch(ctx, a.patterns, pattern.SearchRequest{Query: "slow report query on orders table", Domain: "database"}, false, &out)
	if err != nil {
		t.Fatalf("runPatternsSearch failed: %v", err)
	}
	if !strings.Contains(out.String(), db.ID) {
		t.Errorf("Expected database pattern in search results:\n%s", out.String())
	}
	if strings.Contains(out.String(), "layout shift") {
		t.Errorf("Domain restriction not applied:\n%s", out.String())
	}

	out.Reset()
	err = runPatternsSearch(ctx, a.patterns, pattern.SearchRequest{Query: "anything", Limit: 101}, false, &out)
	if !memory.IsKind(err, memory.KindValidation) {
		t.Errorf("Expected validation error for limit 101, got %v", err)
	}
}

func TestRunBackfill(t *testing.T) {
	a := newTestApp(t, testConfig(t), appOptions{})
	ctx := context.Background()

	// Written behind the pipeline's back, as if the job had been dropped.
	summary := "migrated auth to sessions table"
	if err := a.store.CreateSession(ctx, &memory.Session{
		ID: "s-backfill", Agent: "codex", Summary: &summary, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var out bytes.Buffer
	err := runBackfill(ctx, a, enrichment.BackfillOptions{Spaces: []memory.Space{memory.SpaceSessions}}, &out)
	if err != nil {
		t.Fatalf("runBackfill failed: %v", err)
	}
	if !strings.Contains(out.String(), "embedded 1, failed 0") {
		t.Errorf("Unexpected backfill output:\n%s", out.String())
	}
	if n := a.index.Len(memory.SpaceSessions); n != 1 {
		t.Errorf("Expected 1 session vector, got %d", n)
	}

	out.Reset()
	if err := runBackfill(ctx, a, enrichment.BackfillOptions{Spaces: []memory.Space{memory.SpaceSessions}}, &out); err != nil {
		t.Fatalf("second runBackfill failed: %v", err)
	}
	if !strings.Contains(out.String(), "embedded 0, failed 0") {
		t.Errorf("Second pass should find nothing to do:\n%s", out.String())
	}
}

func seedExport(t *testing.T, a *app) {
	t.Helper()
	ctx := context.Background()
	s, err := a.sessions.Create(ctx, session.CreateRequest{Agent: "claude"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := a.sessions.LogEvent(ctx, session.LogEventRequest{SessionID: s.ID, Kind: "note", Data: map[string]any{"n": i}}); err != nil {
			t.Fatalf("LogEvent failed: %v", err)
		}
	}
	p := harvest(t, a, "testing", "flaky test", "pin the random seed")
	if _, err := a.patterns.Observe(ctx, pattern.ObserveRequest{PatternID: p.ID, Rating: 4}); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
}

func TestRunExportJSONL(t *testing.T) {
	a := newTestApp(t, testConfig(t), appOptions{})
	seedExport(t, a)

	path := filepath.Join(t.TempDir(), "out", "export.jsonl")
	n, err := runExport(context.Background(), a.store, path, "jsonl")
	if err != nil {
		t.Fatalf("runExport failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 records, got %d", n)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()

	counts := map[string]int{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec ExportRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Line is not JSON: %v", err)
		}
		counts[rec.Type]++
	}
	want := map[string]int{recordSession: 1, recordEvent: 2, recordPattern: 1, recordObservation: 1}
	for typ, c := range want {
		if counts[typ] != c {
			t.Errorf("Expected %d %s records, got %d", c, typ, counts[typ])
		}
	}

	for _, leftover := range []string{path + ".tmp", path + ".lock"} {
		if _, err := os.Stat(leftover); !os.IsNotExist(err) {
			t.Errorf("%s was not cleaned up", leftover)
		}
	}
}

func TestRunExportJSON(t *testing.T) {
	a := newTestApp(t, testConfig(t), appOptions{})

	path := filepath.Join(t.TempDir(), "empty.json")
	if _, err := runExport(context.Background(), a.store, path, "json"); err != nil {
		t.Fatalf("runExport failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	var empty []ExportRecord
	if err := json.Unmarshal(data, &empty); err != nil || len(empty) != 0 {
		t.Errorf("Expected empty JSON array, got %q (%v)", data, err)
	}

	seedExport(t, a)
	if _, err := runExport(context.Background(), a.store, path, "json"); err != nil {
		t.Fatalf("runExport failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	var records []ExportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("Output is not a JSON array: %v\n%s", err, data)
	}
	if len(records) != 5 || records[0].Type != recordSession {
		t.Errorf("Unexpected records: %+v", records)
	}
}

func TestExportFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.jsonl")

	lock, err := acquireFileLock(path)
	if err != nil {
		t.Fatalf("acquireFileLock failed: %v", err)
	}

	if _, err := acquireFileLock(path); err == nil {
		t.Error("Second lock should fail while the first is held")
	}

	if err := releaseFileLock(lock); err != nil {
		t.Fatalf("releaseFileLock failed: %v", err)
	}
	again, err := acquireFileLock(path)
	if err != nil {
		t.Fatalf("Lock should be available after release: %v", err)
	}
	releaseFileLock(again)
}

func TestExportCommandFlags(t *testing.T) {
	configPath := ""
	cmd := NewExportCmd(&configPath)

	if cmd.Use != "export" {
		t.Errorf("Expected Use='export', got %q", cmd.Use)
	}
	for _, flag := range []string{"format", "output"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("Flag %q not registered", flag)
		}
	}

	cmd.SetArgs([]string{"--format", "csv"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "csv") {
		t.Errorf("Expected unknown format error, got %v", err)
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := runVersion(context.Background(), nil, false, &out); err != nil {
		t.Fatalf("runVersion failed: %v", err)
	}
	if !strings.Contains(out.String(), "Version:") || strings.Contains(out.String(), "Up to date") {
		t.Errorf("Unexpected output: %s", out.String())
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name": "v9.9.9", "html_url": "https://example.com/v9.9.9"}`)
	}))
	defer srv.Close()
	checker := &version.Checker{URL: srv.URL, Client: srv.Client(), Now: time.Now}

	out.Reset()
	if err := runVersion(context.Background(), checker, true, &out); err != nil {
		t.Fatalf("runVersion --check failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	update, _ := decoded["update"].(map[string]interface{})
	if decoded["version"] != version.Version || update["latest"] != "9.9.9" || update["newer"] != true {
		t.Errorf("Unexpected JSON output: %v", decoded)
	}
}

func TestRunBenchmark(t *testing.T) {
	opts := benchmark.Options{Vectors: 500, Dims: 16, Queries: 10, K: 5, Clusters: 5, NList: 4, NProbe: 4, Seed: 7}

	var out bytes.Buffer
	if err := runBenchmark(context.Background(), opts, true, &out); err != nil {
		t.Fatalf("runBenchmark failed: %v", err)
	}
	var result benchmark.Result
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	// Probing every cluster is exhaustive.
	if result.Recall != 1 {
		t.Errorf("Expected recall 1 with nprobe == nlist, got %.3f", result.Recall)
	}
}

func TestRunDoctor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(testConfig(t), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var out bytes.Buffer
	if err := runDoctor(context.Background(), path, &out); err != nil {
		t.Fatalf("runDoctor failed: %v\n%s", err, out.String())
	}
	for _, want := range []string{"✓ Config file", "✓ Configuration valid", "✓ Storage: sqlite", "sessions", "✓ Embedding: hash", "✓ Vector index: flat"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Doctor output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	t.Setenv("SESSION_MEMORY_WORKERS", "0")
	if err := runDoctor(context.Background(), path, &out); err == nil {
		t.Error("Expected doctor to fail for an invalid configuration")
	}
	if !strings.Contains(out.String(), "✗ Configuration") {
		t.Errorf("Expected configuration failure line:\n%s", out.String())
	}
}

func TestRunServe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(testConfig(t), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"manage_session","arguments":{"action":"create","agent":"claude"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"memory_health","arguments":{}}}`,
	}, "\n") + "\n")
	var out bytes.Buffer

	if err := runServe(context.Background(), path, "", in, &out); err != nil {
		t.Fatalf("runServe failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 responses, got %d:\n%s", len(lines), out.String())
	}
	for i, line := range lines {
		var resp map[string]interface{}
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("Response %d is not JSON: %v", i, err)
		}
		if resp["error"] != nil {
			t.Errorf("Response %d has an error: %v", i, resp["error"])
		}
	}
	if !strings.Contains(lines[1], `\"success\": true`) {
		t.Errorf("Expected successful session creation, got %s", lines[1])
	}
}

func TestStopAllWaitsForBackground(t *testing.T) {
	a := newTestApp(t, testConfig(t), appOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	var background sync.WaitGroup
	var statsErr error
	background.Add(1)
	go func() {
		defer background.Done()
		<-ctx.Done()
		// Work still finishing after cancellation must see an open store.
		time.Sleep(50 * time.Millisecond)
		_, statsErr = a.store.Stats(context.Background())
	}()

	stopAll(cancel, &background, a)
	if statsErr != nil {
		t.Errorf("Store closed before background work returned: %v", statsErr)
	}
	if a.closers != nil {
		t.Error("App was not closed")
	}
}

func TestRunServeStopsPeriodicBackfill(t *testing.T) {
	cfg := testConfig(t)
	cfg.Settings.BackfillIntervalSeconds = 1
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runServe(context.Background(), path, "", in, &out) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not return after stdin closed")
	}
	if !strings.Contains(out.String(), `"id":1`) {
		t.Errorf("Expected ping response, got %q", out.String())
	}
}
