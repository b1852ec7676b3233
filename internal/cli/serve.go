package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
)

// NewServeCmd creates the 'serve' command for running the MCP server.
//
// This is the main command that exposes the memory tools via stdio transport:
// - manage_session, manage_event, manage_pattern, search_memory, memory_health
func NewServeCmd(configPath *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio transport)",
		Long: `Start the session-memory-mcp server using stdio transport.

This server exposes 5 tools to AI clients:
  • manage_session - Create, end, update, delete and list sessions
  • manage_event   - Log and list events within a session
  • manage_pattern - Harvest patterns, record observations, search lessons
  • search_memory  - Similarity search over sessions, events or patterns
  • memory_health  - Storage, enrichment queue and index status

On start the vector and keyword indexes are rebuilt from storage. Entities
without a current embedding are embedded by a periodic backfill pass.`,
		Example: `  # Run directly
  session-memory-mcp serve

  # Expose Prometheus metrics
  session-memory-mcp serve --metrics-addr 127.0.0.1:9464

  # Add to Claude Code
  claude mcp add session-memory -- session-memory-mcp serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, metricsAddr, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides settings.metricsAddr)")

	return cmd
}

// runServe starts the MCP server with stdio transport and signal handling.
// Implements graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
func runServe(parent context.Context, configPath, metricsAddr string, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := openFromFlags(ctx, configPath, appOptions{warm: true})
	if err != nil {
		return err
	}
	var background sync.WaitGroup
	defer stopAll(cancel, &background, a)
	logger := a.logger

	if metricsAddr == "" {
		metricsAddr = a.cfg.Settings.MetricsAddr
	}
	if metricsAddr != "" {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := a.metrics.Serve(ctx, metricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if interval := a.cfg.Settings.BackfillInterval(); interval > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			a.pipeline.RunBackfill(ctx, interval, enrichment.BackfillOptions{})
		}()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	server := a.server()
	logger.Info("serving", "driver", a.store.Driver(), "index", a.cfg.Index.Backend, "model", a.embedder.Model())

	// Run server in separate goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx, in, out)
	}()

	// Wait for either signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		// A request in flight finishes before the store closes; a read
		// blocked on stdin does not.
		select {
		case <-errChan:
		case <-time.After(shutdownGrace):
		}
		return nil

	case err := <-errChan:
		// stdin closed; deferred close drains the enrichment queue
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// shutdownGrace bounds the wait for an in-flight request after a signal.
const shutdownGrace = 2 * time.Second

// stopAll cancels background work, waits for it to return, then releases
// the app. The store stays open until no goroutine can reach it.
func stopAll(cancel context.CancelFunc, background *sync.WaitGroup, a *app) {
	cancel()
	background.Wait()
	a.close()
}
