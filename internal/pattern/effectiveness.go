package pattern

import (
	"math"
	"time"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

const (
	// ratingWeight is the weight for the average rating in the score (0.6 = 60%).
	ratingWeight = 0.6

	// frequencyWeight is the weight for how often the pattern is applied (0.25 = 25%).
	frequencyWeight = 0.25

	// recencyWeight is the weight for recent application (0.15 = 15%).
	recencyWeight = 0.15

	// frequencyWindow is the time window to consider for frequency (30 days).
	frequencyWindow = 30 * 24 * time.Hour

	// frequencySaturation is the number of observations in the window that
	// counts as "applied all the time".
	frequencySaturation = 20.0

	// recencyHalfLife is the half-life for exponential decay (7 days).
	recencyHalfLife = 7 * 24 * time.Hour
)

// Effectiveness summarizes how well a pattern has worked in practice.
type Effectiveness struct {
	Observations   int        `json:"observations"`
	AverageRating  float64    `json:"average_rating"`
	Score          float64    `json:"score"`
	LastObservedAt *time.Time `json:"last_observed_at,omitempty"`
}

// Evaluate scores a pattern from its observations.
// Formula: 0.6*rating + 0.25*frequency + 0.15*recency, each normalized to 0-1.
// A pattern nobody has observed scores 0.
func Evaluate(observations []*memory.Observation, now time.Time) Effectiveness {
	if len(observations) == 0 {
		return Effectiveness{}
	}

	eff := Effectiveness{Observations: len(observations)}
	sum := 0
	for _, o := range observations {
		sum += o.Rating
		if eff.LastObservedAt == nil || o.CreatedAt.After(*eff.LastObservedAt) {
			t := o.CreatedAt
			eff.LastObservedAt = &t
		}
	}
	eff.AverageRating = float64(sum) / float64(len(observations))

	rating := (eff.AverageRating - memory.MinRating) / (memory.MaxRating - memory.MinRating)
	eff.Score = ratingWeight*rating +
		frequencyWeight*calculateFrequency(observations, now) +
		recencyWeight*calculateRecency(observations, now)
	return eff
}

// calculateFrequency counts observations within the window, normalized 0-1.
func calculateFrequency(observations []*memory.Observation, now time.Time) float64 {
	windowStart := now.Add(-frequencyWindow)
	count := 0
	for _, o := range observations {
		if o.CreatedAt.After(windowStart) {
			count++
		}
	}
	return math.Min(float64(count)/frequencySaturation, 1.0)
}

// calculateRecency averages an exponential decay over observation ages.
// After 7 days an observation weighs 0.5, after 14 days 0.25.
func calculateRecency(observations []*memory.Observation, now time.Time) float64 {
	if len(observations) == 0 {
		return 0.0
	}

	weightedSum := 0.0
	for _, o := range observations {
		hoursSince := math.Max(now.Sub(o.CreatedAt).Hours(), 0)
		weightedSum += math.Exp(-math.Ln2 * hoursSince / recencyHalfLife.Hours())
	}
	return math.Min(weightedSum/float64(len(observations)), 1.0)
}
