package match

import "math"

// Weights are the fusion coefficients of the five local signals. After
// NormalizeWeights they are non-negative and sum to 1.
type Weights struct {
	Rerank     float64 `json:"rerank"`
	Semantic   float64 `json:"semantic"`
	Keyword    float64 `json:"keyword"`
	Knowledge  float64 `json:"knowledge"`
	Popularity float64 `json:"popularity"`
}

// DefaultWeights favours the cross-encoder, then embeddings, then keywords.
func DefaultWeights() Weights {
	return Weights{
		Rerank:     0.5,
		Semantic:   0.25,
		Keyword:    0.15,
		Knowledge:  0.05,
		Popularity: 0.05,
	}
}

// Sum returns the total of the five weights.
func (w Weights) Sum() float64 {
	return w.Rerank + w.Semantic + w.Keyword + w.Knowledge + w.Popularity
}

func (w Weights) asMap() map[string]float64 {
	return map[string]float64{
		"rerank":     w.Rerank,
		"semantic":   w.Semantic,
		"keyword":    w.Keyword,
		"knowledge":  w.Knowledge,
		"popularity": w.Popularity,
	}
}

// NormalizeWeights merges the supplied entries over the defaults, ignoring
// unknown keys and negative or non-finite values, and rescales the result to
// sum to 1. A non-positive total falls back to the defaults.
func NormalizeWeights(raw map[string]float64) Weights {
	merged := DefaultWeights().asMap()
	for key, value := range raw {
		if _, known := merged[key]; !known {
			continue
		}
		if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		merged[key] = value
	}

	w := Weights{
		Rerank:     merged["rerank"],
		Semantic:   merged["semantic"],
		Keyword:    merged["keyword"],
		Knowledge:  merged["knowledge"],
		Popularity: merged["popularity"],
	}
	total := w.Sum()
	if total <= 0 {
		w = DefaultWeights()
		total = w.Sum()
	}
	return Weights{
		Rerank:     w.Rerank / total,
		Semantic:   w.Semantic / total,
		Keyword:    w.Keyword / total,
		Knowledge:  w.Knowledge / total,
		Popularity: w.Popularity / total,
	}
}
