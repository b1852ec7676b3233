package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/session"
)

// sessionListOptions are the filters of 'sessions list'.
type sessionListOptions struct {
	agent      string
	project    string
	status     string
	page       int
	pageSize   int
	jsonOutput bool
}

// NewSessionsCmd creates the 'sessions' command group for inspecting sessions.
func NewSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect recorded sessions",
		Long: `List the sessions recorded by agents and show one session with its events.

Sessions are created and ended by agents through the manage_session tool;
these commands only read them.`,
	}

	cmd.AddCommand(newSessionsListCmd(configPath))
	cmd.AddCommand(newSessionsShowCmd(configPath))
	return cmd
}

func newSessionsListCmd(configPath *string) *cobra.Command {
	opts := sessionListOptions{}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, newest first",
		Example: `  session-memory-mcp sessions list
  session-memory-mcp sessions ls --agent claude --status active
  session-memory-mcp sessions list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			return runSessionsList(commandContext(cmd), a.sessions, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.agent, "agent", "", "Only sessions of this agent")
	cmd.Flags().StringVar(&opts.project, "project", "", "Only sessions of this project")
	cmd.Flags().StringVar(&opts.status, "status", "", "active or ended")
	cmd.Flags().IntVar(&opts.page, "page", 1, "Page number")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", memory.DefaultPageSize, "Sessions per page (max 100)")
	cmd.Flags().BoolVarP(&opts.jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

// runSessionsList prints one page of sessions.
func runSessionsList(ctx context.Context, svc *session.Service, opts sessionListOptions, out io.Writer) error {
	result, err := svc.List(ctx, memory.SessionFilter{
		Agent:   opts.agent,
		Project: opts.project,
		Status:  memory.SessionStatus(opts.status),
	}, memory.Page{Number: opts.page, Size: opts.pageSize})
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return writeJSON(out, result)
	}

	if result.Total == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}

	fmt.Fprintf(out, "Sessions (%d of %d, page %d):\n\n", result.Count, result.Total, result.Page)
	for _, s := range result.Items {
		state := "active"
		if !s.Active() {
			state = "ended " + formatTime(*s.EndedAt)
		}
		fmt.Fprintf(out, "  %s\n", s.ID)
		fmt.Fprintf(out, "    Agent:   %s\n", s.Agent)
		if s.Project != "" {
			fmt.Fprintf(out, "    Project: %s\n", s.Project)
		}
		fmt.Fprintf(out, "    Started: %s (%s)\n", formatTime(s.CreatedAt), state)
		if s.Summary != nil {
			fmt.Fprintf(out, "    Summary: %s\n", shorten(*s.Summary, 80))
		}
		fmt.Fprintln(out)
	}
	return nil
}

func newSessionsShowCmd(configPath *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its events in logged order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			return runSessionsShow(commandContext(cmd), a.sessions, args[0], jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

// runSessionsShow prints a session followed by every event it owns.
func runSessionsShow(ctx context.Context, svc *session.Service, id string, jsonOutput bool, out io.Writer) error {
	s, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}

	var events []*memory.Event
	for page := 1; ; page++ {
		result, err := svc.Events(ctx, session.EventQuery{
			SessionID: id,
			Page:      memory.Page{Number: page, Size: memory.MaxPageSize},
		})
		if err != nil {
			return err
		}
		events = append(events, result.Items...)
		if len(events) >= result.Total || result.Count == 0 {
			break
		}
	}

	if jsonOutput {
		return writeJSON(out, map[string]interface{}{"session": s, "events": events})
	}

	fmt.Fprintf(out, "Session %s\n", s.ID)
	fmt.Fprintf(out, "  Agent:   %s\n", s.Agent)
	if s.Project != "" {
		fmt.Fprintf(out, "  Project: %s\n", s.Project)
	}
	fmt.Fprintf(out, "  Started: %s\n", formatTime(s.CreatedAt))
	if s.EndedAt != nil {
		fmt.Fprintf(out, "  Ended:   %s\n", formatTime(*s.EndedAt))
	}
	if s.Summary != nil {
		fmt.Fprintf(out, "  Summary: %s\n", *s.Summary)
	}

	fmt.Fprintf(out, "\nEvents (%d):\n", len(events))
	for _, e := range events {
		fmt.Fprintf(out, "  %3d  %s  %s\n", e.Seq, formatTime(e.CreatedAt), shorten(memory.EventText(e), 72))
	}
	return nil
}

// commandContext returns the command's context or Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
