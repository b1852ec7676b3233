package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
)

// NewPatternsCmd creates the 'patterns' command group.
func NewPatternsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Inspect and search harvested patterns",
		Long: `List harvested patterns ("lessons learned"), show one with its
effectiveness score, or search them by meaning.

Effectiveness: 0.6*rating + 0.25*frequency + 0.15*recency`,
	}

	cmd.AddCommand(newPatternsListCmd(configPath))
	cmd.AddCommand(newPatternsShowCmd(configPath))
	cmd.AddCommand(newPatternsSearchCmd(configPath))
	return cmd
}

func newPatternsListCmd(configPath *string) *cobra.Command {
	var (
		domain     string
		typ        string
		page       int
		pageSize   int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List patterns, newest first",
		Example: `  session-memory-mcp patterns list --domain database
  session-memory-mcp patterns ls --type failure --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			f := memory.PatternFilter{Domain: domain}
			if typ != "" {
				f.Type, _ = memory.ParsePatternType(typ)
			}
			return runPatternsList(commandContext(cmd), a.patterns, f, memory.Page{Number: page, Size: pageSize}, jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Only patterns of this domain")
	cmd.Flags().StringVar(&typ, "type", "", "success, failure, technical, process or other")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", memory.DefaultPageSize, "Patterns per page (max 100)")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func runPatternsList(ctx context.Context, svc *pattern.Service, f memory.PatternFilter, p memory.Page, jsonOutput bool, out io.Writer) error {
	result, err := svc.List(ctx, f, p)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, result)
	}
	if result.Total == 0 {
		fmt.Fprintln(out, "No patterns harvested.")
		return nil
	}

	fmt.Fprintf(out, "Patterns (%d of %d, page %d):\n\n", result.Count, result.Total, result.Page)
	for _, pt := range result.Items {
		printPatternLine(out, pt)
	}
	return nil
}

func printPatternLine(out io.Writer, pt *memory.Pattern) {
	fmt.Fprintf(out, "  %s  [%s/%s]\n", pt.ID, pt.Domain, pt.Type)
	fmt.Fprintf(out, "    %s\n", shorten(pt.Description, 76))
	fmt.Fprintf(out, "    → %s\n\n", shorten(pt.Action, 74))
}

func newPatternsShowCmd(configPath *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <pattern-id>",
		Short: "Show a pattern with its effectiveness and recent observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			return runPatternsShow(commandContext(cmd), a.patterns, args[0], jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func runPatternsShow(ctx context.Context, svc *pattern.Service, id string, jsonOutput bool, out io.Writer) error {
	d, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, d)
	}

	pt := d.Pattern
	fmt.Fprintf(out, "Pattern %s\n", pt.ID)
	fmt.Fprintf(out, "  Type:        %s\n", pt.Type)
	fmt.Fprintf(out, "  Domain:      %s\n", pt.Domain)
	fmt.Fprintf(out, "  Description: %s\n", pt.Description)
	fmt.Fprintf(out, "  Action:      %s\n", pt.Action)
	if pt.Outcome != "" {
		fmt.Fprintf(out, "  Outcome:     %s\n", pt.Outcome)
	}

	e := d.Effectiveness
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Effectiveness: %.2f (%d observations, average rating %.1f)\n", e.Score, e.Observations, e.AverageRating)
	for _, o := range d.Observations {
		line := fmt.Sprintf("  %s  %d/5", formatTime(o.CreatedAt), o.Rating)
		if o.Feedback != "" {
			line += "  " + shorten(o.Feedback, 60)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func newPatternsSearchCmd(configPath *string) *cobra.Command {
	req := pattern.SearchRequest{}
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find patterns similar to a description of the problem at hand",
		Example: `  session-memory-mcp patterns search "slow queries on large tables" --domain database
  session-memory-mcp patterns search "flaky integration test" --hybrid --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The index is in memory, so load it before querying.
			a, err := openFromFlags(commandContext(cmd), *configPath, appOptions{warm: true})
			if err != nil {
				return err
			}
			defer a.close()

			req.Query = args[0]
			return runPatternsSearch(commandContext(cmd), a.patterns, req, jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&req.Domain, "domain", "", "Only patterns of this domain")
	cmd.Flags().StringVar(&req.Type, "type", "", "Only patterns of this type")
	cmd.Flags().StringVar(&req.Keyword, "keyword", "", "Only patterns containing these keywords")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 10, "Maximum results (max 100)")
	cmd.Flags().Float64Var(&req.MinSimilarity, "min-similarity", 0, "Drop results below this cosine similarity")
	cmd.Flags().BoolVar(&req.Hybrid, "hybrid", false, "Blend keyword relevance into the ranking")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func runPatternsSearch(ctx context.Context, svc *pattern.Service, req pattern.SearchRequest, jsonOutput bool, out io.Writer) error {
	result, err := svc.Search(ctx, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, result)
	}

	if result.Reason != "" {
		fmt.Fprintf(out, "⚠️  %s results: %s\n\n", result.Status, result.Reason)
	}
	if len(result.Items) == 0 {
		fmt.Fprintln(out, "No matching patterns.")
		return nil
	}
	for _, hit := range result.Items {
		if hit.Pattern == nil {
			continue
		}
		fmt.Fprintf(out, "%.3f ", hit.Similarity)
		printPatternLine(out, hit.Pattern)
	}
	return nil
}
