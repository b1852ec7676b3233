package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/config"
	"github.com/khanglvm/session-memory-mcp/internal/version"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "session-memory-mcp",
		Short: "Shared session and pattern memory for AI coding agents",
		Long: `session-memory-mcp records what AI coding agents do (sessions and the
events logged within them), harvests reusable patterns from that work, and
retrieves both by meaning through vector similarity.

It is served over stdio as an MCP server with 5 consolidated tools:
  • manage_session - create, end, update, inspect and list sessions
  • manage_event   - log and list events within a session
  • manage_pattern - harvest, observe, inspect and search patterns
  • search_memory  - similarity search over sessions, events or patterns
  • memory_health  - storage, queue and index status`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ~/.session-memory-mcp.json)")

	rootCmd.AddCommand(NewServeCmd(&configPath))
	rootCmd.AddCommand(NewInitCmd(&configPath))
	rootCmd.AddCommand(NewDoctorCmd(&configPath))
	rootCmd.AddCommand(NewSessionsCmd(&configPath))
	rootCmd.AddCommand(NewPatternsCmd(&configPath))
	rootCmd.AddCommand(NewBackfillCmd(&configPath))
	rootCmd.AddCommand(NewExportCmd(&configPath))
	rootCmd.AddCommand(NewBenchmarkCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// resolveConfigPath returns the explicit path or the default location.
func resolveConfigPath(configPath *string) (string, error) {
	if configPath != nil && *configPath != "" {
		return *configPath, nil
	}
	path, err := config.GetDefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to get config path: %w", err)
	}
	return path, nil
}
