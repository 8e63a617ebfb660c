package match

import (
	"math"
	"slices"
)

// Rationale tags attached to fused candidates.
const (
	WhyStrongMatch       = "strong match"
	WhySemanticallyClose = "semantically close"
	WhySemanticRelated   = "semantically related"
	WhyKeywordHit        = "keyword hit"
	WhyExactSystem       = "exact system match"
	WhyRelatedPart       = "related part"
	WhyPopular           = "popular case"
	WhyCommon            = "common issue"
	WhyTextMatch         = "text match"
)

// Signals are the calibrated [0,1] values a final score was fused from.
type Signals struct {
	Rerank     float64 `json:"rerank"`
	Semantic   float64 `json:"semantic"`
	Keyword    float64 `json:"keyword"`
	Knowledge  float64 `json:"knowledge"`
	Popularity float64 `json:"popularity"`
	Search     float64 `json:"search,omitempty"`
}

// Query carries the request context the knowledge prior compares against.
type Query struct {
	System string
	Part   string
}

// PoolStats holds the calibration statistics of each raw signal over one pool.
type PoolStats struct {
	Rerank  *Stats `json:"rerank"`
	Lexical *Stats `json:"lexical"`
	Vector  *Stats `json:"vector"`
}

// ComputePoolStats gathers per-signal statistics over the candidates present.
func ComputePoolStats(cands []*Candidate) PoolStats {
	rerank := make([]*float64, 0, len(cands))
	lexical := make([]*float64, 0, len(cands))
	vector := make([]*float64, 0, len(cands))
	for _, c := range cands {
		rerank = append(rerank, c.RerankScore)
		lexical = append(lexical, c.LexicalScore)
		vector = append(vector, c.VectorScore)
	}
	return PoolStats{
		Rerank:  ComputeStats(rerank),
		Lexical: ComputeStats(lexical),
		Vector:  ComputeStats(vector),
	}
}

// signal calibrates a raw score. Present values are z-scored against stats
// with fallback(raw) used when stats are missing; absent values skip z-scoring
// and use fallback(0).
func signal(raw *float64, stats *Stats, fallback func(float64) float64) float64 {
	if raw == nil {
		return Clamp01(fallback(0))
	}
	return NormalizeOr(*raw, stats, fallback(*raw))
}

func rerankFallback(raw float64) float64  { return Clamp01(raw) }
func lexicalFallback(raw float64) float64 { return Clamp01(raw / 20) }
func vectorFallback(raw float64) float64  { return Clamp01(raw) }

// KnowledgePrior scores agreement between the candidate classification and
// the requested system and part.
func KnowledgePrior(c *Candidate, q Query) float64 {
	prior := 0.0
	if q.System != "" && c.System != "" && q.System == c.System {
		prior += 1
	}
	if q.Part != "" && c.Part != "" && q.Part == c.Part {
		prior += 0.5
	}
	return math.Min(1, prior)
}

// PopularitySignal damps popularity logarithmically into [0,1].
func PopularitySignal(popularity float64) float64 {
	return Clamp01(math.Log1p(math.Max(0, popularity)) / 5)
}

// Fuse scores every candidate with the five weighted local signals, fills in
// the rationale and returns the candidates sorted by final score. Ties keep
// their input order.
func Fuse(cands []*Candidate, stats PoolStats, w Weights, q Query) []*Candidate {
	for _, c := range cands {
		s := Signals{
			Rerank:     signal(c.RerankScore, stats.Rerank, rerankFallback),
			Semantic:   signal(c.VectorScore, stats.Vector, vectorFallback),
			Keyword:    signal(c.LexicalScore, stats.Lexical, lexicalFallback),
			Knowledge:  KnowledgePrior(c, q),
			Popularity: PopularitySignal(c.Popularity),
		}
		c.Signals = &s
		c.FinalScore = w.Rerank*s.Rerank +
			w.Semantic*s.Semantic +
			w.Keyword*s.Keyword +
			w.Knowledge*s.Knowledge +
			w.Popularity*s.Popularity
		c.Why = localRationale(s)
	}
	return SortByScore(cands)
}

func localRationale(s Signals) []string {
	why := []string{}
	if s.Rerank >= 0.6 {
		why = append(why, WhyStrongMatch)
	}
	if s.Semantic >= 0.4 {
		why = append(why, WhySemanticallyClose)
	}
	if s.Keyword >= 0.2 {
		why = append(why, WhyKeywordHit)
	}
	if s.Knowledge >= 1 {
		why = append(why, WhyExactSystem)
	} else if s.Knowledge > 0.1 {
		why = append(why, WhyRelatedPart)
	}
	if s.Popularity >= 0.5 {
		why = append(why, WhyPopular)
	}
	return why
}

// SortByScore returns a copy of cands ordered by descending final score,
// stable with respect to the input order.
func SortByScore(cands []*Candidate) []*Candidate {
	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(a, b *Candidate) int {
		switch {
		case a.FinalScore > b.FinalScore:
			return -1
		case a.FinalScore < b.FinalScore:
			return 1
		default:
			return 0
		}
	})
	return sorted
}
