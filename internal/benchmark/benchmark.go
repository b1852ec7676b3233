/*
Package benchmark measures the recall and latency of approximate vector search
against exact search on synthetic data.

The corpus is a mixture of Gaussian clusters on the unit sphere, which is how
embeddings of related texts behave. Every query is answered twice: by the flat
index (ground truth) and by the IVF index. Recall@K is the share of the exact
top K that the approximate index also returns.
*/
package benchmark

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
)

// benchModel tags the synthetic vectors.
const benchModel = "benchmark"

// Options sizes a benchmark run. Zero fields take the defaults below.
type Options struct {
	Vectors  int   `json:"vectors"`
	Dims     int   `json:"dims"`
	Queries  int   `json:"queries"`
	K        int   `json:"k"`
	Clusters int   `json:"clusters"`
	NList    int   `json:"nlist"`
	NProbe   int   `json:"nprobe"`
	Seed     int64 `json:"seed"`

	// Concurrency is the number of queries in flight.
	Concurrency int `json:"concurrency"`
}

// DefaultOptions returns a run that finishes in a few seconds.
func DefaultOptions() Options {
	return Options{
		Vectors:     20000,
		Dims:        128,
		Queries:     200,
		K:           10,
		Clusters:    50,
		Seed:        1,
		Concurrency: 4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Vectors <= 0 {
		o.Vectors = d.Vectors
	}
	if o.Dims <= 0 {
		o.Dims = d.Dims
	}
	if o.Queries <= 0 {
		o.Queries = d.Queries
	}
	if o.K <= 0 {
		o.K = d.K
	}
	if o.Clusters <= 0 {
		o.Clusters = d.Clusters
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}

// Latency summarizes per-query durations.
type Latency struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	Max  time.Duration `json:"max"`
}

// Result is the outcome of a run.
type Result struct {
	Options Options `json:"options"`

	// Recall is the mean recall@K of IVF against exact search.
	Recall float64 `json:"recall"`

	Exact  Latency `json:"exact"`
	Approx Latency `json:"approx"`

	// Speedup is the ratio of mean exact to mean approximate latency.
	Speedup float64 `json:"speedup"`

	// Build is the time spent loading and training the IVF index.
	Build time.Duration `json:"build"`
}

// Run builds both indexes over a synthetic corpus and compares them.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if opts.K > opts.Vectors {
		return nil, fmt.Errorf("k (%d) exceeds the number of vectors (%d)", opts.K, opts.Vectors)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	centers := make([][]float32, opts.Clusters)
	for i := range centers {
		centers[i] = randomUnit(rng, opts.Dims)
	}

	exact := vectorindex.NewFlat()
	approx := vectorindex.NewIVF(vectorindex.IVFConfig{
		NList:  opts.NList,
		NProbe: opts.NProbe,
		// Train once, on the last upsert.
		TrainThreshold: opts.Vectors,
	})

	space := memory.SpacePatterns
	start := time.Now()
	for i := 0; i < opts.Vectors; i++ {
		vec := jitter(rng, centers[rng.Intn(len(centers))], 0.35)
		id := fmt.Sprintf("v%06d", i)
		if err := exact.Upsert(ctx, space, id, vec, benchModel); err != nil {
			return nil, err
		}
		if err := approx.Upsert(ctx, space, id, vec, benchModel); err != nil {
			return nil, err
		}
	}
	build := time.Since(start)

	queries := make([][]float32, opts.Queries)
	for i := range queries {
		queries[i] = jitter(rng, centers[rng.Intn(len(centers))], 0.35)
	}

	recalls := make([]float64, opts.Queries)
	exactTimes := make([]time.Duration, opts.Queries)
	approxTimes := make([]time.Duration, opts.Queries)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			qopts := vectorindex.QueryOptions{Limit: opts.K}

			t0 := time.Now()
			truth, err := exact.Query(gctx, space, q, qopts)
			if err != nil {
				return err
			}
			exactTimes[i] = time.Since(t0)

			t1 := time.Now()
			got, err := approx.Query(gctx, space, q, qopts)
			if err != nil {
				return err
			}
			approxTimes[i] = time.Since(t1)

			recalls[i] = recallAt(truth, got)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Options: opts,
		Recall:  mean(recalls),
		Exact:   summarize(exactTimes),
		Approx:  summarize(approxTimes),
		Build:   build,
	}
	if res.Approx.Mean > 0 {
		res.Speedup = float64(res.Exact.Mean) / float64(res.Approx.Mean)
	}
	return res, nil
}

// recallAt is the share of truth found in got.
func recallAt(truth, got []vectorindex.Match) float64 {
	if len(truth) == 0 {
		return 1
	}
	found := make(map[string]bool, len(got))
	for _, m := range got {
		found[m.ID] = true
	}
	hits := 0
	for _, m := range truth {
		if found[m.ID] {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

func summarize(ds []time.Duration) Latency {
	if len(ds) == 0 {
		return Latency{}
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return Latency{
		Mean: total / time.Duration(len(sorted)),
		P50:  percentile(sorted, 0.50),
		P95:  percentile(sorted, 0.95),
		Max:  sorted[len(sorted)-1],
	}
}

// percentile reads the nearest-rank percentile from sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func randomUnit(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return normalize(v)
}

// jitter returns center plus Gaussian noise of the given scale, normalized.
func jitter(rng *rand.Rand, center []float32, scale float64) []float32 {
	v := make([]float32, len(center))
	sigma := scale / math.Sqrt(float64(len(center)))
	for i, c := range center {
		v[i] = c + float32(rng.NormFloat64()*sigma)
	}
	return normalize(v)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}

// FormatResult formats the benchmark result for display.
func FormatResult(result *Result) string {
	var sb strings.Builder
	o := result.Options

	sb.WriteString("╔══════════════════════════════════════════════════════════════╗\n")
	sb.WriteString("║           VECTOR SEARCH BENCHMARK (exact vs IVF)             ║\n")
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString(fmt.Sprintf("║  Corpus:   %-7d vectors × %-4d dims, %-4d clusters         ║\n", o.Vectors, o.Dims, o.Clusters))
	sb.WriteString(fmt.Sprintf("║  Queries:  %-5d top-%-3d                                     ║\n", o.Queries, o.K))
	sb.WriteString(fmt.Sprintf("║  Build:    %-12v                                      ║\n", result.Build.Round(time.Millisecond)))
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString("║                 mean        p50         p95         max      ║\n")
	sb.WriteString(fmt.Sprintf("║  📏 Exact   %-11v %-11v %-11v %-9v║\n",
		round(result.Exact.Mean), round(result.Exact.P50), round(result.Exact.P95), round(result.Exact.Max)))
	sb.WriteString(fmt.Sprintf("║  🚀 IVF     %-11v %-11v %-11v %-9v║\n",
		round(result.Approx.Mean), round(result.Approx.P50), round(result.Approx.P95), round(result.Approx.Max)))
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString(fmt.Sprintf("║  🎯 Recall@%-3d %.3f                                          ║\n", o.K, result.Recall))
	sb.WriteString(fmt.Sprintf("║  ⚡ Speedup    %.1fx                                           ║\n", result.Speedup))
	sb.WriteString("╚══════════════════════════════════════════════════════════════╝\n")

	return sb.String()
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Microsecond)
}
