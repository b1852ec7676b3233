package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/benchmark"
)

// NewBenchmarkCmd creates the 'benchmark' command for recall/latency testing.
func NewBenchmarkCmd() *cobra.Command {
	opts := benchmark.DefaultOptions()
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare recall and latency: exact vs IVF vector search",
		Long: `Run a vector search benchmark on synthetic clustered embeddings comparing:

EXACT SEARCH:
  Every stored vector is scored against the query. Always correct, and
  linear in the number of vectors.

IVF SEARCH:
  Vectors are grouped into k-means clusters; a query only scans the
  nprobe clusters nearest to it. Faster on large spaces, at some recall cost.

Recall@K is the share of the exact top K that IVF also returns. Use it to
choose index.nList and index.nProbe for your data size.`,
		Example: `  # Run benchmark with defaults (20000 × 128)
  session-memory-mcp benchmark

  # Match your embedding size and tune the clusters scanned per query
  session-memory-mcp benchmark --vectors 50000 --dims 1536 --nprobe 16

  # Output as JSON
  session-memory-mcp benchmark --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(commandContext(cmd), opts, jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Vectors, "vectors", opts.Vectors, "Number of stored vectors")
	cmd.Flags().IntVar(&opts.Dims, "dims", opts.Dims, "Vector dimensions")
	cmd.Flags().IntVarP(&opts.Queries, "queries", "n", opts.Queries, "Number of queries")
	cmd.Flags().IntVarP(&opts.K, "k", "k", opts.K, "Results per query")
	cmd.Flags().IntVar(&opts.Clusters, "clusters", opts.Clusters, "Topics in the synthetic corpus")
	cmd.Flags().IntVar(&opts.NList, "nlist", 0, "IVF clusters (default: sqrt(vectors))")
	cmd.Flags().IntVar(&opts.NProbe, "nprobe", 0, "IVF clusters scanned per query (default: max(2, nlist/8))")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", opts.Concurrency, "Queries in flight")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

// runBenchmark executes the recall/latency benchmark.
func runBenchmark(ctx context.Context, opts benchmark.Options, jsonOutput bool, out io.Writer) error {
	if !jsonOutput {
		fmt.Fprintf(out, "Building %d vectors...\n", opts.Vectors)
	}

	result, err := benchmark.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}

	if jsonOutput {
		return writeJSON(out, result)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, benchmark.FormatResult(result))
	fmt.Fprintln(out)
	return nil
}
