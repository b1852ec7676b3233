package textindex

import (
	"math"
	"testing"
)

func TestNormalizeScores_Empty(t *testing.T) {
	normalized := normalizeScores([]Hit{})
	if len(normalized) != 0 {
		t.Errorf("expected empty result, got %d items", len(normalized))
	}
}

func TestNormalizeScores_Single(t *testing.T) {
	normalized := normalizeScores([]Hit{{ID: "a", Score: 0.5}})
	if len(normalized) != 1 {
		t.Fatalf("expected 1 result, got %d", len(normalized))
	}

	// Single result should have score 1.0 (all scores are min=max)
	if normalized[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for single result, got %f", normalized[0].Score)
	}
}

func TestNormalizeScores_Multiple(t *testing.T) {
	normalized := normalizeScores([]Hit{
		{ID: "a", Score: 2.0},
		{ID: "b", Score: 3.0},
		{ID: "c", Score: 4.0},
	})

	want := []float64{0.0, 0.5, 1.0}
	for i, w := range want {
		if math.Abs(normalized[i].Score-w) > 0.001 {
			t.Errorf("result %d: expected score %f, got %f", i, w, normalized[i].Score)
		}
	}
}

func TestFuse(t *testing.T) {
	semantic := []Hit{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.8},
	}
	keyword := []Hit{
		{ID: "b", Score: 12.0},
		{ID: "c", Score: 4.0},
	}

	fused := Fuse(semantic, keyword, DefaultFusionConfig)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}

	// b: 0.7*0.8 + 0.3*1.0 = 0.86, a: 0.7*0.9 = 0.63, c: 0.3*0.0 = 0
	if fused[0].ID != "b" || math.Abs(fused[0].Score-0.86) > 0.001 {
		t.Errorf("expected b with 0.86 first, got %s with %f", fused[0].ID, fused[0].Score)
	}
	if fused[1].ID != "a" {
		t.Errorf("expected a second, got %s", fused[1].ID)
	}
	if fused[2].ID != "c" {
		t.Errorf("expected c last, got %s", fused[2].ID)
	}
}

func TestFuse_KeywordOnly(t *testing.T) {
	fused := Fuse(nil, []Hit{{ID: "x", Score: 3}}, FusionConfig{SemanticWeight: 0.5, KeywordWeight: 0.5})
	if len(fused) != 1 || fused[0].Score != 0.5 {
		t.Errorf("unexpected fusion result: %+v", fused)
	}
}
