package match

import (
	"math"
	"strings"
)

// Fixed additive bonuses applied on top of the two-term hybrid fusion.
const (
	hybridPopularityBonus = 0.05
	hybridSearchBonus     = 0.05
	searchCountScale      = 50.0
)

// HybridParams configures FuseHybrid.
type HybridParams struct {
	// SemanticWeight is the share of the semantic signal; the keyword signal gets the rest.
	SemanticWeight float64
	// SemanticEnabled is false when the vector channel was skipped or unavailable.
	SemanticEnabled bool
	Query           Query
}

func bm25Fallback(raw float64) float64     { return Clamp01(raw / 10) }
func semanticFallback(raw float64) float64 { return Clamp01((raw + 1) / 2) }

// hybridSignal calibrates a present raw score; absent scores carry no evidence.
func hybridSignal(raw *float64, stats *Stats, fallback func(float64) float64) float64 {
	if raw == nil {
		return 0
	}
	return NormalizeOr(*raw, stats, fallback(*raw))
}

// FuseHybrid scores candidates merged from a search-engine backend and
// returns them sorted by final score.
func FuseHybrid(cands []*Candidate, stats PoolStats, p HybridParams) []*Candidate {
	w := Clamp01(p.SemanticWeight)
	if !p.SemanticEnabled {
		w = 0
	}

	for _, c := range cands {
		s := Signals{
			Keyword:    hybridSignal(c.LexicalScore, stats.Lexical, bm25Fallback),
			Popularity: PopularitySignal(c.Popularity),
			Search:     Clamp01(float64(max(0, c.SearchCount)) / searchCountScale),
		}
		if p.SemanticEnabled {
			s.Semantic = hybridSignal(c.VectorScore, stats.Vector, semanticFallback)
		}
		base := w*s.Semantic + (1-w)*s.Keyword
		c.Signals = &s
		c.FinalScore = math.Min(1, base+hybridPopularityBonus*s.Popularity+hybridSearchBonus*s.Search)
		c.Why = hybridRationale(c, s, p.Query)
	}
	return SortByScore(cands)
}

func hybridRationale(c *Candidate, s Signals, q Query) []string {
	var why []string
	if s.Semantic >= 0.6 {
		why = append(why, WhySemanticallyClose)
	} else if s.Semantic >= 0.4 {
		why = append(why, WhySemanticRelated)
	}
	if s.Keyword >= 0.2 {
		why = append(why, WhyKeywordHit)
	}
	if q.System != "" && c.System == q.System {
		why = append(why, WhyExactSystem)
	}
	if q.Part != "" && c.Part != "" && strings.Contains(c.Part, q.Part) {
		why = append(why, WhyRelatedPart)
	}
	switch {
	case c.Popularity > 100:
		why = append(why, WhyPopular)
	case c.Popularity > 50:
		why = append(why, WhyCommon)
	}
	if len(why) == 0 {
		why = []string{WhyTextMatch}
	}
	return why
}
