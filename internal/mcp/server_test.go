package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/khanglvm/session-memory-mcp/internal/embedding"
	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/metrics"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
	"github.com/khanglvm/session-memory-mcp/internal/retrieval"
	"github.com/khanglvm/session-memory-mcp/internal/session"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
	"github.com/khanglvm/session-memory-mcp/internal/textindex"
	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
)

type testEnv struct {
	server   *Server
	pipeline *enrichment.Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSQLite(filepath.Join(t.TempDir(), "memory.db"), nil)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	keywords, err := textindex.NewIndexer()
	if err != nil {
		t.Fatalf("failed to create keyword index: %v", err)
	}
	t.Cleanup(func() { keywords.Close() })

	embedder := embedding.NewHash(128)
	index := vectorindex.NewFlat()
	m := metrics.New()

	pipeline := enrichment.New(enrichment.Deps{
		Store: store, Embedder: embedder, Index: index, Keywords: keywords, Metrics: m,
	}, enrichment.Config{Workers: 2})
	t.Cleanup(pipeline.Stop)

	coord := retrieval.New(retrieval.Deps{
		Store: store, Embedder: embedder, Index: index, Keywords: keywords, Metrics: m,
	}, retrieval.Config{})

	server := NewServer(Deps{
		Sessions:  session.New(session.Deps{Store: store, Enricher: pipeline}),
		Patterns:  pattern.New(pattern.Deps{Store: store, Enricher: pipeline, Searcher: coord}),
		Retrieval: coord,
		Store:     store,
		Queue:     pipeline,
		Index:     index,
		Embedder:  embedder,
		Metrics:   m,
		Version:   "test",
	})
	return &testEnv{server: server, pipeline: pipeline}
}

// call invokes a tool and returns the decoded body and the isError flag.
func (e *testEnv) call(t *testing.T, tool string, args map[string]interface{}) (map[string]interface{}, bool) {
	t.Helper()
	params, _ := json.Marshal(map[string]interface{}{"name": tool, "arguments": args})
	req := MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params}

	resp := e.server.handleToolsCall(context.Background(), &req)
	if resp.Error != nil {
		t.Fatalf("%s: unexpected JSON-RPC error: %+v", tool, resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	content := result["content"].([]map[string]interface{})
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), &body); err != nil {
		t.Fatalf("%s: result is not JSON: %v", tool, err)
	}
	isError, _ := result["isError"].(bool)
	return body, isError
}

func (e *testEnv) mustCall(t *testing.T, tool string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	body, isError := e.call(t, tool, args)
	if isError || body["success"] != true {
		t.Fatalf("%s %v failed: %v", tool, args, body["error"])
	}
	return body
}

func errorOf(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body)
	}
	errBody, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error payload missing: %v", body)
	}
	return errBody
}

// TestHandleToolsList tests tools/list RPC handler
func TestHandleToolsList(t *testing.T) {
	env := newTestEnv(t)
	req := MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"}

	resp := env.server.handleToolsList(&req)

	if resp.JSONRPC != "2.0" {
		t.Errorf("expected JSONRPC 2.0, got %s", resp.JSONRPC)
	}
	if resp.ID != req.ID {
		t.Errorf("expected ID %v, got %v", req.ID, resp.ID)
	}

	tools := resp.Result.(map[string]interface{})["tools"].([]map[string]interface{})
	toolNames := make(map[string]bool)
	for _, tool := range tools {
		name, _ := tool["name"].(string)
		toolNames[name] = true
		if _, ok := tool["inputSchema"].(map[string]interface{}); !ok {
			t.Errorf("tool %s has no inputSchema", name)
		}
	}

	for _, expected := range []string{"manage_session", "manage_event", "manage_pattern", "search_memory", "memory_health"} {
		if !toolNames[expected] {
			t.Errorf("missing expected tool: %s", expected)
		}
	}
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.server.handleRequest(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"initialize","params":{}}`))
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	result := resp.Result.(map[string]interface{})
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("expected protocol %s, got %v", protocolVersion, result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "session-memory-mcp" || info["version"] != "test" {
		t.Errorf("unexpected serverInfo: %v", info)
	}
}

func TestUnknownMethodAndNotification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.server.handleRequest(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Errorf("expected method-not-found, got %+v", resp)
	}

	resp, err = env.server.handleRequest(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil || resp != nil {
		t.Errorf("expected no response to a notification, got %+v, %v", resp, err)
	}
}

func TestUnknownTool(t *testing.T) {
	env := newTestEnv(t)
	req := MCPRequest{JSONRPC: "2.0", ID: 3, Method: "tools/call", Params: json.RawMessage(`{"name":"hub_execute"}`)}

	resp := env.server.handleToolsCall(context.Background(), &req)

	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp)
	}
}

func TestSessionWorkflow(t *testing.T) {
	env := newTestEnv(t)

	created := env.mustCall(t, "manage_session", map[string]interface{}{"action": "create", "agent": "A", "project": "P"})
	id := created["session"].(map[string]interface{})["id"].(string)

	for _, kind := range []string{"task-started", "code-change", "task-completed"} {
		env.mustCall(t, "manage_event", map[string]interface{}{"action": "log", "session_id": id, "kind": kind})
	}

	ended := env.mustCall(t, "manage_session", map[string]interface{}{"action": "end", "session_id": id, "summary": "optimized queries"})
	sess := ended["session"].(map[string]interface{})
	if sess["summary"] != "optimized queries" || sess["ended_at"] == nil {
		t.Errorf("session not ended correctly: %v", sess)
	}

	events := env.mustCall(t, "manage_event", map[string]interface{}{"action": "list", "session_id": id})
	if events["total"].(float64) != 3 {
		t.Fatalf("expected 3 events, got %v", events["total"])
	}
	items := events["events"].([]interface{})
	for i, item := range items {
		if seq := item.(map[string]interface{})["seq"].(float64); seq != float64(i+1) {
			t.Errorf("event %d has seq %v", i, seq)
		}
	}

	body, isError := env.call(t, "manage_session", map[string]interface{}{"action": "end", "session_id": id})
	if !isError {
		t.Fatal("expected second end to fail")
	}
	errBody := errorOf(t, body)
	if errBody["kind"] != "AlreadyEndedError" || errBody["id"] != id {
		t.Errorf("unexpected error payload: %v", errBody)
	}

	last := env.mustCall(t, "manage_session", map[string]interface{}{"action": "last", "agent": "A"})
	if last["session"].(map[string]interface{})["id"] != id {
		t.Errorf("last session mismatch: %v", last)
	}

	recent := env.mustCall(t, "manage_session", map[string]interface{}{"action": "recent", "agent": "A"})
	if recent["count"].(float64) != 1 {
		t.Errorf("expected 1 recent session, got %v", recent["count"])
	}

	env.mustCall(t, "manage_session", map[string]interface{}{"action": "delete", "session_id": id})
	body, isError = env.call(t, "manage_session", map[string]interface{}{"action": "get", "session_id": id})
	if !isError || errorOf(t, body)["kind"] != "NotFoundError" {
		t.Errorf("expected NotFoundError after delete, got %v", body)
	}
}

func TestValidationErrorsNameTheField(t *testing.T) {
	env := newTestEnv(t)

	harvested := env.mustCall(t, "manage_pattern", map[string]interface{}{
		"action": "harvest", "type": "success", "domain": "testing",
		"description": "flaky test", "pattern_action": "use a fake clock",
	})
	id := harvested["pattern"].(map[string]interface{})["id"].(string)

	tests := []struct {
		tool  string
		args  map[string]interface{}
		field string
	}{
		{"manage_pattern", map[string]interface{}{"action": "observe", "pattern_id": id, "rating": 6}, "rating"},
		{"manage_pattern", map[string]interface{}{"action": "harvest", "type": "success", "description": "d"}, "pattern_action"},
		{"manage_session", map[string]interface{}{"action": "create"}, "agent"},
		{"manage_session", map[string]interface{}{"action": "list", "page_size": 101}, "page_size"},
		{"manage_session", map[string]interface{}{"action": "list", "created_after": "yesterday"}, "created_after"},
		{"manage_session", map[string]interface{}{"action": "explode"}, "action"},
		{"manage_session", map[string]interface{}{"action": "create", "agent": 42}, "agent"},
		{"manage_event", map[string]interface{}{"action": "list", "session_id": "x", "kinds": []string{"bogus"}}, "kinds"},
		{"search_memory", map[string]interface{}{"query": "x"}, "space"},
		{"search_memory", map[string]interface{}{"space": "sessions", "limit": 500}, "limit"},
	}

	for _, tt := range tests {
		body, isError := env.call(t, tt.tool, tt.args)
		if !isError {
			t.Errorf("%s %v: expected error", tt.tool, tt.args)
			continue
		}
		errBody := errorOf(t, body)
		if errBody["kind"] != "ValidationError" || errBody["field"] != tt.field {
			t.Errorf("%s %v: expected ValidationError on %s, got %v", tt.tool, tt.args, tt.field, errBody)
		}
		if errBody["hint"] == "" {
			t.Errorf("%s %v: expected a hint", tt.tool, tt.args)
		}
	}
}

func TestPatternSearchRespectsDomain(t *testing.T) {
	env := newTestEnv(t)

	perf := env.mustCall(t, "manage_pattern", map[string]interface{}{
		"action": "harvest", "type": "technical", "domain": "performance",
		"description": "database slow query from missing index", "pattern_action": "add an index",
	})
	env.mustCall(t, "manage_pattern", map[string]interface{}{
		"action": "harvest", "type": "technical", "domain": "reliability",
		"description": "database slow query timeouts", "pattern_action": "retry database slow query",
	})
	// Stop drains the queue, so every pattern is embedded afterwards.
	env.pipeline.Stop()

	body := env.mustCall(t, "manage_pattern", map[string]interface{}{
		"action": "search", "query": "database slow query", "domain": "performance", "limit": 5,
	})
	if body["status"] != "complete" {
		t.Errorf("expected complete status, got %v", body["status"])
	}
	results := body["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	wantID := perf["pattern"].(map[string]interface{})["id"]
	if got := results[0].(map[string]interface{})["id"]; got != wantID {
		t.Errorf("expected %v, got %v", wantID, got)
	}

	all := env.mustCall(t, "search_memory", map[string]interface{}{"space": "patterns", "query": "database slow query"})
	if all["count"].(float64) != 2 {
		t.Errorf("expected both patterns without a domain filter, got %v", all["count"])
	}
}

func TestObserveAndGetPattern(t *testing.T) {
	env := newTestEnv(t)
	harvested := env.mustCall(t, "manage_pattern", map[string]interface{}{
		"action": "harvest", "type": "process", "description": "review migrations", "pattern_action": "run them on a copy",
	})
	id := harvested["pattern"].(map[string]interface{})["id"].(string)

	for _, rating := range []int{4, 5} {
		env.mustCall(t, "manage_pattern", map[string]interface{}{"action": "observe", "pattern_id": id, "rating": rating})
	}

	got := env.mustCall(t, "manage_pattern", map[string]interface{}{"action": "get", "pattern_id": id})
	eff := got["effectiveness"].(map[string]interface{})
	if eff["observations"].(float64) != 2 || eff["average_rating"].(float64) != 4.5 {
		t.Errorf("unexpected effectiveness: %v", eff)
	}

	body, isError := env.call(t, "manage_pattern", map[string]interface{}{"action": "observe", "pattern_id": "missing", "rating": 3})
	if !isError || errorOf(t, body)["kind"] != "NotFoundError" {
		t.Errorf("expected NotFoundError, got %v", body)
	}
}

func TestMemoryHealth(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall(t, "manage_session", map[string]interface{}{"action": "create", "agent": "A", "project": "P"})
	env.pipeline.Stop()

	health := env.mustCall(t, "memory_health", nil)
	if health["storage_driver"] != "sqlite" {
		t.Errorf("expected sqlite driver, got %v", health["storage_driver"])
	}
	if health["embedding_model"] != "hash-v1@128" {
		t.Errorf("unexpected model: %v", health["embedding_model"])
	}
	sizes := health["index_sizes"].(map[string]interface{})
	if sizes["sessions"].(float64) != 1 {
		t.Errorf("expected 1 session vector, got %v", sizes["sessions"])
	}
	if rows := health["rows"].(map[string]interface{}); rows["sessions"].(float64) != 1 {
		t.Errorf("expected 1 session row, got %v", rows["sessions"])
	}
}

func TestRunLoop(t *testing.T) {
	env := newTestEnv(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		fmt.Sprintf(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"manage_session","arguments":%s}}`, `{"action":"create","agent":"A"}`),
	}, "\n")

	var out bytes.Buffer
	if err := env.server.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 responses, got %d: %q", len(lines), lines)
	}

	var parseErr MCPResponse
	if err := json.Unmarshal([]byte(lines[1]), &parseErr); err != nil {
		t.Fatalf("bad response line: %v", err)
	}
	if parseErr.Error == nil || parseErr.Error.Code != codeParseError {
		t.Errorf("expected parse error, got %+v", parseErr)
	}
	if !strings.Contains(lines[3], `\"success\": true`) {
		t.Errorf("expected successful tool call, got %s", lines[3])
	}
}
