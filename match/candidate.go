package match

import (
	"slices"

	"fault-matcher/catalog"
)

// Source names a retrieval channel that can contribute a candidate.
type Source string

const (
	SourceVector  Source = "vector"
	SourceLexical Source = "lexical"
)

// channelPriority fixes the order in which channels are merged.
var channelPriority = map[Source]int{
	SourceVector:  0,
	SourceLexical: 1,
}

// Candidate is one catalog record considered for a query, together with the
// raw and fused scores gathered for it during a single request.
type Candidate struct {
	catalog.Record

	Highlight    string   `json:"highlight,omitempty"`
	Sources      []Source `json:"sources,omitempty"`
	LexicalScore *float64 `json:"lexical_score"`
	VectorScore  *float64 `json:"vector_score"`
	RerankScore  *float64 `json:"rerank_score"`
	Signals      *Signals `json:"signals,omitempty"`
	FinalScore   float64  `json:"final_score"`
	Why          []string `json:"why"`
}

// Hit is a single result returned by a retrieval channel.
type Hit struct {
	Record    catalog.Record
	Lexical   *float64
	Vector    *float64
	Rerank    *float64
	Highlight string
}

// HitList is the ordered output of one channel.
type HitList struct {
	Source Source
	Hits   []Hit
}

// Pool holds the merged candidates of one request, keyed by record id and
// kept in first-seen order.
type Pool struct {
	order []*Candidate
	byID  map[string]*Candidate
}

func NewPool() *Pool {
	return &Pool{byID: make(map[string]*Candidate)}
}

// Merge folds hit lists into a pool. Lists are processed in channel priority
// order (vector before lexical); a later channel only fills fields that are
// still empty on a candidate created by an earlier one.
func Merge(lists ...HitList) *Pool {
	ordered := slices.Clone(lists)
	slices.SortStableFunc(ordered, func(a, b HitList) int {
		return priority(a.Source) - priority(b.Source)
	})

	pool := NewPool()
	for _, list := range ordered {
		for _, hit := range list.Hits {
			pool.Add(list.Source, hit)
		}
	}
	return pool
}

func priority(s Source) int {
	if p, ok := channelPriority[s]; ok {
		return p
	}
	return len(channelPriority)
}

// Add merges one hit into the pool. Hits without an id are dropped.
func (p *Pool) Add(src Source, hit Hit) {
	id := hit.Record.ID
	if id == "" {
		return
	}

	c, ok := p.byID[id]
	if !ok {
		c = &Candidate{Record: hit.Record}
		c.Tags = slices.Clone(hit.Record.Tags)
		p.byID[id] = c
		p.order = append(p.order, c)
	} else {
		fillRecord(&c.Record, hit.Record)
	}

	if c.Highlight == "" {
		c.Highlight = hit.Highlight
	}
	c.LexicalScore = fillScore(c.LexicalScore, hit.Lexical)
	c.VectorScore = fillScore(c.VectorScore, hit.Vector)
	c.RerankScore = fillScore(c.RerankScore, hit.Rerank)
	if src != "" && !slices.Contains(c.Sources, src) {
		c.Sources = append(c.Sources, src)
	}
}

// SetRerank records a re-rank score unless one is already present.
func (c *Candidate) SetRerank(score float64) {
	c.RerankScore = fillScore(c.RerankScore, &score)
}

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

func (p *Pool) Get(id string) (*Candidate, bool) {
	if p == nil {
		return nil, false
	}
	c, ok := p.byID[id]
	return c, ok
}

// Candidates returns the pool in first-seen order.
func (p *Pool) Candidates() []*Candidate {
	if p == nil {
		return nil
	}
	return slices.Clone(p.order)
}

func fillScore(current, incoming *float64) *float64 {
	if current != nil || incoming == nil {
		return current
	}
	v := *incoming
	return &v
}

func fillRecord(dst *catalog.Record, src catalog.Record) {
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.Text, src.Text)
	fill(&dst.System, src.System)
	fill(&dst.Part, src.Part)
	fill(&dst.VehicleType, src.VehicleType)
	fill(&dst.VehicleBrand, src.VehicleBrand)
	fill(&dst.ModelYear, src.ModelYear)
	fill(&dst.FaultCode, src.FaultCode)
	fill(&dst.Topic, src.Topic)
	fill(&dst.Discussion, src.Discussion)
	fill(&dst.Solution, src.Solution)
	if len(dst.Tags) == 0 && len(src.Tags) > 0 {
		dst.Tags = slices.Clone(src.Tags)
	}
	if dst.Popularity == 0 {
		dst.Popularity = src.Popularity
	}
	if dst.SearchCount == 0 {
		dst.SearchCount = src.SearchCount
	}
}

// Float returns a pointer to v, for building hits and tests.
func Float(v float64) *float64 {
	return &v
}
