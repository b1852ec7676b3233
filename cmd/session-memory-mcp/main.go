/*
Package main is the entry point for session-memory-mcp CLI.

session-memory-mcp is an MCP server that gives AI coding agents a shared,
persistent memory of their sessions and of the patterns harvested from them,
searchable by meaning.

Usage:
  session-memory-mcp [command]

Available Commands:
  init        Create the configuration file
  serve       Run the MCP server (stdio transport)
  doctor      Verify configuration, storage and embedding provider
  sessions    Inspect recorded sessions
  patterns    Inspect and search harvested patterns
  backfill    Embed records that have no vector yet
  export      Export all memory as JSON or JSONL
  benchmark   Compare recall and latency: exact vs IVF vector search
  version     Print version information

Examples:
  # Write a local, offline configuration
  session-memory-mcp init

  # Run as MCP server
  session-memory-mcp serve

  # Find patterns for the problem at hand
  session-memory-mcp patterns search "slow queries on large tables"
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/khanglvm/session-memory-mcp/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
