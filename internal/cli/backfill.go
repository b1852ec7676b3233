package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// NewBackfillCmd creates the 'backfill' command.
func NewBackfillCmd(configPath *string) *cobra.Command {
	var (
		spaces      []string
		batchSize   int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed records that have no vector from the current model",
		Long: `Embed every session, event and pattern without a vector from the configured
embedding model.

This picks up records written while the embedding provider was unavailable,
records whose enrichment job was dropped because the queue was full, and
everything stored under a previous model after switching models.`,
		Example: `  session-memory-mcp backfill
  session-memory-mcp backfill --space patterns --concurrency 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := enrichment.BackfillOptions{BatchSize: batchSize, Concurrency: concurrency}
			for _, s := range spaces {
				space := memory.Space(s)
				if !space.Valid() {
					return fmt.Errorf("unknown space %q (use sessions, events or patterns)", s)
				}
				opts.Spaces = append(opts.Spaces, space)
			}

			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			return runBackfill(commandContext(cmd), a, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&spaces, "space", nil, "Spaces to backfill (default: all)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Records fetched per round")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel embedding calls")

	return cmd
}

// runBackfill runs one backfill pass and prints the outcome per space.
func runBackfill(ctx context.Context, a *app, opts enrichment.BackfillOptions, out io.Writer) error {
	fmt.Fprintf(out, "Backfilling with %s...\n\n", a.embedder.Model())

	stats, err := a.pipeline.Backfill(ctx, opts)
	for _, space := range memory.Spaces {
		st, ok := stats[space]
		if !ok {
			continue
		}
		mark := "✓"
		if st.Failed > 0 {
			mark = "✗"
		}
		fmt.Fprintf(out, "  %s %-9s embedded %d, failed %d\n", mark, space, st.Embedded, st.Failed)
	}
	if err != nil {
		return fmt.Errorf("backfill interrupted: %w", err)
	}
	return nil
}
