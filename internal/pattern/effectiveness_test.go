package pattern

import (
	"math"
	"testing"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

func obs(rating int, at time.Time) *memory.Observation {
	return &memory.Observation{Rating: rating, CreatedAt: at}
}

func TestEvaluate_NoObservations(t *testing.T) {
	eff := Evaluate(nil, time.Now())

	if eff.Score != 0.0 || eff.Observations != 0 || eff.LastObservedAt != nil {
		t.Errorf("expected zero effectiveness for no observations, got %+v", eff)
	}
}

func TestEvaluate_AverageRating(t *testing.T) {
	now := time.Now()
	eff := Evaluate([]*memory.Observation{obs(5, now), obs(3, now), obs(4, now)}, now)

	if eff.Observations != 3 {
		t.Errorf("expected 3 observations, got %d", eff.Observations)
	}
	if math.Abs(eff.AverageRating-4.0) > 0.001 {
		t.Errorf("expected average rating 4.0, got %f", eff.AverageRating)
	}
}

func TestEvaluate_LastObservedAt(t *testing.T) {
	now := time.Now()
	latest := now.Add(-time.Hour)
	eff := Evaluate([]*memory.Observation{obs(3, now.Add(-48*time.Hour)), obs(3, latest), obs(3, now.Add(-5*time.Hour))}, now)

	if eff.LastObservedAt == nil || !eff.LastObservedAt.Equal(latest) {
		t.Errorf("expected last observation at %v, got %v", latest, eff.LastObservedAt)
	}
}

func TestEvaluate_HigherRatingScoresHigher(t *testing.T) {
	now := time.Now()
	good := Evaluate([]*memory.Observation{obs(5, now)}, now)
	bad := Evaluate([]*memory.Observation{obs(1, now)}, now)

	if good.Score <= bad.Score {
		t.Errorf("expected rating 5 to outscore rating 1, got %f <= %f", good.Score, bad.Score)
	}
}

func TestEvaluate_PerfectRecentPattern(t *testing.T) {
	now := time.Now()
	var history []*memory.Observation
	for i := 0; i < 20; i++ {
		history = append(history, obs(5, now))
	}

	eff := Evaluate(history, now)

	if math.Abs(eff.Score-1.0) > 0.001 {
		t.Errorf("expected score ~1.0 for saturated, perfect, fresh observations, got %f", eff.Score)
	}
}

func TestCalculateFrequency_OutsideWindow(t *testing.T) {
	now := time.Now()
	history := []*memory.Observation{obs(4, now.Add(-31*24*time.Hour))}

	freq := calculateFrequency(history, now)

	if freq != 0.0 {
		t.Errorf("expected frequency 0.0 for observations outside window, got %f", freq)
	}
}

func TestCalculateFrequency_Saturates(t *testing.T) {
	now := time.Now()
	var history []*memory.Observation
	for i := 0; i < 50; i++ {
		history = append(history, obs(3, now.Add(-time.Duration(i)*time.Hour)))
	}

	freq := calculateFrequency(history, now)

	if freq != 1.0 {
		t.Errorf("expected frequency capped at 1.0, got %f", freq)
	}
}

func TestCalculateRecency_HalfLife(t *testing.T) {
	now := time.Now()
	history := []*memory.Observation{obs(3, now.Add(-recencyHalfLife))}

	recency := calculateRecency(history, now)

	if math.Abs(recency-0.5) > 0.001 {
		t.Errorf("expected recency ~0.5 after one half-life, got %f", recency)
	}
}

func TestCalculateRecency_FutureClampsToOne(t *testing.T) {
	now := time.Now()
	history := []*memory.Observation{obs(3, now.Add(time.Hour))}

	recency := calculateRecency(history, now)

	if recency != 1.0 {
		t.Errorf("expected recency 1.0 for a timestamp ahead of the clock, got %f", recency)
	}
}
