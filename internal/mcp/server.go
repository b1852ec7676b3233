/*
Package mcp implements the MCP server that exposes the memory store to agents.

The server uses stdio transport (newline-delimited JSON-RPC 2.0) and exposes
5 tools:
  - manage_session: create, end, update, get, list, last, recent, delete
  - manage_event: log, list, get
  - manage_pattern: harvest, observe, get, list, search
  - search_memory: filtered similarity search over any space
  - memory_health: queue, index and storage status
*/
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/embedding"
	"github.com/khanglvm/session-memory-mcp/internal/metrics"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
	"github.com/khanglvm/session-memory-mcp/internal/retrieval"
	"github.com/khanglvm/session-memory-mcp/internal/session"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
)

const protocolVersion = "2024-11-05"

// maxLineSize bounds one JSON-RPC message.
const maxLineSize = 4 << 20

// Queue reports the state of the enrichment queue.
type Queue interface {
	Pending() int
	Dropped() int64
}

// Deps are the services behind the tools. Queue, Index, Embedder and
// Metrics only feed memory_health and may be nil.
type Deps struct {
	Sessions  *session.Service
	Patterns  *pattern.Service
	Retrieval *retrieval.Coordinator
	Store     storage.Storage
	Queue     Queue
	Index     vectorindex.Index
	Embedder  embedding.Embedder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Version   string
}

// Server represents the session-memory MCP server.
type Server struct {
	deps   Deps
	logger *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewServer creates a new MCP server over the given services.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Server{deps: deps, logger: logger.With("component", "mcp")}
}

// Run serves requests read from in and writes responses to out.
// This blocks until in is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		response, err := s.handleRequest(ctx, line)
		if err != nil {
			// Send error response
			s.sendError(err)
			continue
		}

		if response != nil {
			s.sendResponse(response)
		}
	}
	return scanner.Err()
}

// MCPRequest represents an incoming MCP JSON-RPC request.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing MCP JSON-RPC response.
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// handleRequest processes an incoming MCP request. Notifications (no id)
// get no response.
func (s *Server) handleRequest(ctx context.Context, data []byte) (*MCPResponse, error) {
	var req MCPRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC request: %w", err)
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(&req), nil
	case "ping":
		return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}, nil
	case "tools/list":
		return s.handleToolsList(&req), nil
	case "tools/call":
		return s.handleToolsCall(ctx, &req), nil
	}

	if req.ID == nil {
		return nil, nil
	}
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &MCPError{Code: codeMethodNotFound, Message: "Method not found"},
	}, nil
}

// handleInitialize handles the MCP initialize request.
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "session-memory-mcp",
				"version": s.deps.Version,
			},
		},
	}
}

// handleToolsList returns the tool definitions.
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": toolDefinitions(),
		},
	}
}

// handleToolsCall handles tool execution requests. Domain failures are
// reported inside the tool result with isError set; only malformed calls
// become JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)},
		}
	}

	handler, ok := s.tools()[params.Name]
	if !ok {
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: codeInvalidParams, Message: fmt.Sprintf("Unknown tool: %s", params.Name)},
		}
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	payload, err := handler(ctx, args)
	outcome := "ok"
	if err != nil {
		outcome = string(errorKind(err))
		s.logger.Debug("tool call failed", "tool", params.Name, "kind", outcome, "error", err)
	}
	s.deps.Metrics.ToolCall(params.Name, outcome, time.Since(start))

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  toolResult(payload, err),
	}
}

// sendResponse writes a JSON-RPC response line.
func (s *Server) sendResponse(resp *MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		data, _ = json.Marshal(&MCPResponse{JSONRPC: "2.0", ID: resp.ID, Error: &MCPError{Code: -32603, Message: "internal error"}})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Write(append(data, '\n'))
}

// sendError writes a parse error response.
func (s *Server) sendError(err error) {
	s.sendResponse(&MCPResponse{
		JSONRPC: "2.0",
		ID:      nil,
		Error:   &MCPError{Code: codeParseError, Message: err.Error()},
	})
}
