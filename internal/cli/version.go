/*
Package cli implements the version command for session-memory-mcp.

The version command displays version, commit, and build date information,
and optionally asks GitHub whether a newer release exists.
*/
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/version"
)

// NewVersionCmd creates the 'version' command
func NewVersionCmd() *cobra.Command {
	var jsonOutput, check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the current version, commit hash, and build date.

With --check, also look up the latest release on GitHub (cached for 24 hours).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var checker *version.Checker
			if check {
				checker = version.NewChecker()
			}
			return runVersion(commandContext(cmd), checker, jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")

	return cmd
}

// runVersion prints build information and, when checker is set, the latest release.
func runVersion(ctx context.Context, checker *version.Checker, jsonOutput bool, out io.Writer) error {
	info := version.Get()

	var update *version.Update
	if checker != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		u, err := checker.Check(ctx, info.Version, false)
		if err != nil {
			return fmt.Errorf("update check failed: %w", err)
		}
		update = u
	}

	if jsonOutput {
		return writeJSON(out, struct {
			version.Info
			Update *version.Update `json:"update,omitempty"`
		}{info, update})
	}

	fmt.Fprintf(out, "Version:  %s\n", info.Version)
	fmt.Fprintf(out, "Commit:   %s\n", info.Commit)
	fmt.Fprintf(out, "Built:    %s\n", info.Date)
	fmt.Fprintf(out, "Go:       %s (%s)\n", info.GoVersion, info.Platform)
	if update != nil {
		if update.Newer {
			fmt.Fprintf(out, "\n⬆️  %s is available: %s\n", update.Latest, update.URL)
		} else {
			fmt.Fprintln(out, "\n✓ Up to date")
		}
	}
	return nil
}
