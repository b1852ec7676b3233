package textindex

import (
	"sort"
)

// FusionConfig defines weights for hybrid score fusion.
type FusionConfig struct {
	SemanticWeight float64 `json:"semanticWeight"`
	KeywordWeight  float64 `json:"keywordWeight"`
}

// DefaultFusionConfig provides balanced fusion (70% semantic, 30% keyword).
var DefaultFusionConfig = FusionConfig{
	SemanticWeight: 0.7,
	KeywordWeight:  0.3,
}

// Fuse combines similarity scores with BM25 scores. Keyword scores are
// min-max normalized first since BM25 is unbounded; an id present in only
// one list keeps that list's weighted score.
func Fuse(semantic, keyword []Hit, config FusionConfig) []Hit {
	keyword = normalizeScores(keyword)

	scores := make(map[string]float64, len(semantic)+len(keyword))
	for _, h := range semantic {
		scores[h.ID] += config.SemanticWeight * h.Score
	}
	for _, h := range keyword {
		scores[h.ID] += config.KeywordWeight * h.Score
	}

	fused := make([]Hit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Hit{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

// normalizeScores normalizes scores to [0, 1] range.
func normalizeScores(results []Hit) []Hit {
	if len(results) == 0 {
		return results
	}

	minScore := results[0].Score
	maxScore := results[0].Score
	for _, result := range results {
		if result.Score < minScore {
			minScore = result.Score
		}
		if result.Score > maxScore {
			maxScore = result.Score
		}
	}

	normalized := make([]Hit, len(results))
	for i, result := range results {
		normalized[i] = result
		// Avoid division by zero - when all scores are equal, set all to 1.0
		if maxScore == minScore {
			normalized[i].Score = 1.0
		} else {
			normalized[i].Score = (result.Score - minScore) / (maxScore - minScore)
		}
	}
	return normalized
}
