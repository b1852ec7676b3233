package benchmark

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
)

func smallOptions() Options {
	return Options{
		Vectors:     3000,
		Dims:        32,
		Queries:     60,
		K:           10,
		Clusters:    20,
		NList:       16,
		NProbe:      8,
		Seed:        42,
		Concurrency: 4,
	}
}

func TestRunRecall(t *testing.T) {
	result, err := Run(context.Background(), smallOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Recall < 0.8 || result.Recall > 1 {
		t.Errorf("Expected recall@10 in [0.8, 1], got %.3f", result.Recall)
	}
	if result.Exact.Mean <= 0 || result.Approx.Mean <= 0 {
		t.Errorf("Expected positive latencies, got exact=%v approx=%v", result.Exact.Mean, result.Approx.Mean)
	}
	if result.Exact.P50 > result.Exact.P95 || result.Exact.P95 > result.Exact.Max {
		t.Errorf("Percentiles out of order: %+v", result.Exact)
	}
}

func TestRunDeterministic(t *testing.T) {
	opts := smallOptions()
	opts.Vectors = 1500
	opts.Queries = 20

	first, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.Recall != second.Recall {
		t.Errorf("Same seed should give the same recall: %.4f vs %.4f", first.Recall, second.Recall)
	}
}

func TestRunRejectsOversizedK(t *testing.T) {
	_, err := Run(context.Background(), Options{Vectors: 5, K: 10})
	if err == nil {
		t.Fatal("Expected error when k exceeds the corpus")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := smallOptions()
	opts.Vectors = 200
	opts.NList = 4
	opts.NProbe = 1
	// A cancelled context must not hang the run.
	done := make(chan struct{})
	go func() {
		Run(ctx, opts)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRecallAt(t *testing.T) {
	truth := []vectorindex.Match{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	tests := []struct {
		name string
		got  []vectorindex.Match
		want float64
	}{
		{"all found", []vectorindex.Match{{ID: "d"}, {ID: "c"}, {ID: "b"}, {ID: "a"}}, 1.0},
		{"half found", []vectorindex.Match{{ID: "a"}, {ID: "x"}, {ID: "c"}, {ID: "y"}}, 0.5},
		{"none found", []vectorindex.Match{{ID: "x"}}, 0.0},
		{"empty result", nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recallAt(truth, tt.got); got != tt.want {
				t.Errorf("Expected recall %.2f, got %.2f", tt.want, got)
			}
		})
	}

	if got := recallAt(nil, nil); got != 1 {
		t.Errorf("Empty truth should have recall 1, got %.2f", got)
	}
}

func TestSummarize(t *testing.T) {
	var ds []time.Duration
	for i := 1; i <= 100; i++ {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	l := summarize(ds)
	if l.P50 != 50*time.Millisecond {
		t.Errorf("Expected p50 50ms, got %v", l.P50)
	}
	if l.P95 != 95*time.Millisecond {
		t.Errorf("Expected p95 95ms, got %v", l.P95)
	}
	if l.Max != 100*time.Millisecond {
		t.Errorf("Expected max 100ms, got %v", l.Max)
	}
	if l.Mean != 50500*time.Microsecond {
		t.Errorf("Expected mean 50.5ms, got %v", l.Mean)
	}

	if (summarize(nil) != Latency{}) {
		t.Error("Empty input should give zero latency")
	}
}

func TestFormatResult(t *testing.T) {
	result := &Result{
		Options: smallOptions(),
		Recall:  0.953,
		Exact:   Latency{Mean: 2 * time.Millisecond},
		Approx:  Latency{Mean: 500 * time.Microsecond},
		Speedup: 4,
	}

	out := FormatResult(result)
	for _, want := range []string{"VECTOR SEARCH BENCHMARK", "Recall@10", "0.953", "4.0x", "3000"} {
		if !strings.Contains(out, want) {
			t.Errorf("Formatted result missing %q:\n%s", want, out)
		}
	}
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(&Result{Options: smallOptions(), Recall: 0.9})
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
	for _, key := range []string{"options", "recall", "exact", "approx", "speedup", "build"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON output missing key %q", key)
		}
	}
}
