package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fault-matcher/catalog"
	apperrors "fault-matcher/errors"
	"fault-matcher/match"
	"fault-matcher/metrics"
	"fault-matcher/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSize            = 10
	defaultVectorK         = 50
	defaultArbitrationTopN = 5
	arbitrationChoiceRunes = 300
	pathHybrid             = "hybrid"
)

// Embedder turns the query into the vector the index was built with.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the index-level settings of the hybrid path.
type Config struct {
	VectorField           string
	VectorNumCandidates   int
	DefaultSemanticWeight float64
}

// Request is one hybrid match call.
type Request struct {
	Query           string
	Filters         Filters
	Size            int
	UseDecision     bool
	UseSemantic     bool
	SemanticWeight  *float64
	VectorK         int
	UseArbitration  bool
	ArbitrationTopN int
}

func (r Request) withDefaults() Request {
	if r.Size <= 0 {
		r.Size = defaultSize
	}
	if r.VectorK <= 0 {
		r.VectorK = defaultVectorK
	}
	if r.ArbitrationTopN <= 0 {
		r.ArbitrationTopN = defaultArbitrationTopN
	}
	return r
}

// Metadata describes how a hybrid response was produced.
type Metadata struct {
	SemanticUsed          bool         `json:"semantic_used"`
	SemanticWeight        float64      `json:"semantic_weight"`
	VectorK               int          `json:"vector_k"`
	KeywordSize           int          `json:"keyword_size"`
	Dialect               Dialect      `json:"dialect"`
	KeywordStats          *match.Stats `json:"bm25_stats"`
	SemanticStats         *match.Stats `json:"semantic_stats"`
	ArbitrationUsed       bool         `json:"arbitration_used"`
	ArbitrationCandidates int          `json:"arbitration_candidate_count,omitempty"`
	ElapsedMS             int64        `json:"elapsed_ms"`
}

// Matcher runs phenomena searches against a Backend. Its CompatState is
// shared by every request.
type Matcher struct {
	backend  Backend
	embedder Embedder
	compat   *CompatState
	router   *match.Router
	cfg      Config
	logger   *zap.Logger

	probeOnce sync.Once
}

// DetectCompat asks the backend for its version and builds the initial
// compatibility state. An unreachable backend is reported as unavailable.
func DetectCompat(ctx context.Context, backend Backend, semantic bool) (*CompatState, error) {
	version, err := backend.Version(ctx)
	if err != nil {
		return nil, apperrors.Categorize(apperrors.ErrBackendUnavailable, err)
	}
	return NewCompatState(version, semantic), nil
}

// NewMatcher wires the hybrid path. embedder may be nil, which turns semantic
// search off.
func NewMatcher(backend Backend, embedder Embedder, compat *CompatState, router *match.Router, cfg Config, logger *zap.Logger) *Matcher {
	if embedder == nil {
		compat.DisableSemantic()
	}
	return &Matcher{
		backend:  backend,
		embedder: embedder,
		compat:   compat,
		router:   router,
		cfg:      cfg,
		logger:   logger,
	}
}

func (m *Matcher) Status() CompatSnapshot {
	return m.compat.Snapshot()
}

// Search runs the keyword query and, when enabled, the kNN query concurrently
// and returns the fused candidates. It fails only when the keyword query
// fails, with an error wrapping ErrBackendUnavailable.
func (m *Matcher) Search(ctx context.Context, req Request) (*match.Response, error) {
	start := time.Now()
	req = req.withDefaults()
	query := utils.NormalizeQuery(req.Query)
	filters := req.Filters.Clauses()

	wantSemantic := req.UseSemantic && m.cfg.VectorField != "" && m.compat.SemanticEnabled()
	if wantSemantic {
		m.ensureProbed(ctx)
		wantSemantic = m.compat.SemanticEnabled()
	}

	var (
		lexical    *SearchResult
		lexicalErr error
		vectorHits []match.Hit
		semantic   bool
	)
	var g errgroup.Group
	g.Go(func() error {
		lexical, lexicalErr = m.backend.Search(ctx, lexicalBody(query, filters, req.Size))
		return nil
	})
	if wantSemantic {
		g.Go(func() error {
			hits, err := m.searchSemantic(ctx, query, req.VectorK, filters)
			if err != nil {
				metrics.RecordChannelFailure(string(match.SourceVector))
				m.logger.Warn("Semantic search failed, continuing with keyword results", zap.Error(err))
				return nil
			}
			vectorHits, semantic = hits, true
			return nil
		})
	}
	_ = g.Wait()

	if lexicalErr != nil {
		metrics.RecordBackendUnavailable()
		m.logger.Error("Hybrid backend search failed", zap.String("query", query), zap.Error(lexicalErr))
		return nil, apperrors.Categorize(apperrors.ErrBackendUnavailable, lexicalErr)
	}

	lexicalHits := make([]match.Hit, 0, len(lexical.Hits))
	for _, h := range lexical.Hits {
		lexicalHits = append(lexicalHits, toHit(h, match.SourceLexical))
	}

	pool := match.Merge(
		match.HitList{Source: match.SourceVector, Hits: vectorHits},
		match.HitList{Source: match.SourceLexical, Hits: lexicalHits},
	)
	cands := pool.Candidates()
	stats := match.ComputePoolStats(cands)

	weight := m.cfg.DefaultSemanticWeight
	if req.SemanticWeight != nil {
		weight = *req.SemanticWeight
	}
	weight = match.Clamp01(weight)

	ranked := match.FuseHybrid(cands, stats, match.HybridParams{
		SemanticWeight:  weight,
		SemanticEnabled: semantic,
		Query:           match.Query{System: req.Filters.System, Part: req.Filters.Part},
	})

	meta := Metadata{
		SemanticUsed: semantic,
		KeywordSize:  req.Size,
		Dialect:      m.compat.Dialect(),
		KeywordStats: stats.Lexical,
	}
	if semantic {
		meta.SemanticWeight = weight
		meta.VectorK = req.VectorK
		meta.SemanticStats = stats.Vector
	}
	meta.ElapsedMS = time.Since(start).Milliseconds()

	return &match.Response{
		Query:    query,
		Total:    lexical.Total,
		Top:      ranked[:min(req.Size, len(ranked))],
		Metadata: &meta,
	}, nil
}

// Match runs Search and, when requested, routes the result to a decision.
// Without arbitration a gray-zone score ends in GRAY for manual confirmation.
func (m *Matcher) Match(ctx context.Context, req Request) (*match.Response, error) {
	start := time.Now()
	req = req.withDefaults()

	resp, err := m.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if !req.UseDecision {
		return resp, nil
	}

	decision := m.router.Decide(ctx, resp.Query, resp.Top, match.DecideOptions{
		Arbitrate:   req.UseArbitration,
		TopN:        req.ArbitrationTopN,
		ChoiceRunes: arbitrationChoiceRunes,
	})
	resp.Decision = &decision

	if meta, ok := resp.Metadata.(*Metadata); ok && arbitrated(decision) {
		meta.ArbitrationUsed = true
		meta.ArbitrationCandidates = min(req.ArbitrationTopN, len(resp.Top))
	}

	elapsed := time.Since(start)
	metrics.RecordDecision(pathHybrid, string(decision.Mode))
	metrics.ObserveMatchLatency(pathHybrid, elapsed)
	return resp, nil
}

// arbitrated reports whether a model was actually asked for the decision.
func arbitrated(d match.Decision) bool {
	return d.Arbitration != nil && d.Arbitration.Reason != match.ReasonNotConfigured
}

// searchSemantic embeds the query and runs the kNN query, switching dialect
// once if the backend rejects the current shape.
func (m *Matcher) searchSemantic(ctx context.Context, query string, k int, filters []any) ([]match.Hit, error) {
	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}
	vec := vectors[0]
	numCandidates := max(k*4, m.cfg.VectorNumCandidates)

	dialect := m.compat.Dialect()
	res, err := m.backend.Search(ctx, knnBody(dialect, m.cfg.VectorField, vec, k, numCandidates, filters))
	if err != nil && IsDialectError(err) {
		switched := m.compat.SwitchDialect(dialect)
		if next := m.compat.Dialect(); next != dialect {
			if switched {
				metrics.RecordDialectSwitch(string(next))
				m.logger.Warn("kNN query shape rejected, switching dialect",
					zap.String("from", string(dialect)),
					zap.String("to", string(next)),
					zap.Error(err))
			}
			res, err = m.backend.Search(ctx, knnBody(next, m.cfg.VectorField, vec, k, numCandidates, filters))
		}
	}
	if err != nil && IsDialectError(err) {
		err = apperrors.Categorize(apperrors.ErrBackendIncompatible, err)
	}
	if err != nil {
		if IsNotVectorFieldError(err) && m.compat.DisableSemantic() {
			metrics.RecordSemanticDisabled("search")
			m.logger.Warn("Vector field is not a knn_vector, semantic search disabled",
				zap.String("field", m.cfg.VectorField),
				zap.Error(err))
		}
		return nil, err
	}

	hits := make([]match.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, toHit(h, match.SourceVector))
	}
	return hits, nil
}

// ensureProbed checks the vector field mapping once per process. A failing
// probe leaves semantic search on; a mapping without a knn_vector field turns
// it off.
func (m *Matcher) ensureProbed(ctx context.Context) {
	m.probeOnce.Do(func() { m.probe(ctx) })
}

// probe runs under probeOnce, so concurrent first requests wait for its verdict.
func (m *Matcher) probe(ctx context.Context) {
	if !m.compat.BeginProbe() {
		return
	}
	props, err := m.backend.FieldMapping(ctx)
	if err != nil {
		m.logger.Warn("Vector field probe failed, keeping semantic search enabled", zap.Error(err))
		return
	}
	if IsVectorMapping(LookupFieldMapping(props, m.cfg.VectorField)) {
		return
	}
	if m.compat.DisableSemantic() {
		metrics.RecordSemanticDisabled("probe")
		m.logger.Warn("Vector field is not mapped as knn_vector, semantic search disabled",
			zap.String("field", m.cfg.VectorField))
	}
}

func toHit(h SearchHit, src match.Source) match.Hit {
	score := h.Score
	hit := match.Hit{
		Record:    catalog.FromSource(h.ID, h.Source),
		Highlight: pickHighlight(h.Highlight, "text", "symptoms", "fault_symptom", "discussion", "fault_point"),
	}
	if src == match.SourceVector {
		hit.Vector = &score
	} else {
		hit.Lexical = &score
	}
	return hit
}

func pickHighlight(highlight map[string][]string, keys ...string) string {
	for _, key := range keys {
		if fragments := highlight[key]; len(fragments) > 0 {
			return fragments[0]
		}
	}
	return ""
}

// Bucket is one facet value and its document count.
type Bucket struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PopularityStats summarizes the popularity field over the index.
type PopularityStats struct {
	Count int      `json:"count"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Sum   float64  `json:"sum"`
}

// IndexStats is the document count and facet distribution of the index.
type IndexStats struct {
	TotalDocuments  int             `json:"total_documents"`
	Systems         []Bucket        `json:"systems"`
	VehicleTypes    []Bucket        `json:"vehicletypes"`
	PopularityStats PopularityStats `json:"popularity_stats"`
	Compat          CompatSnapshot  `json:"compat"`
}

type termsAgg struct {
	Buckets []struct {
		Key      any `json:"key"`
		DocCount int `json:"doc_count"`
	} `json:"buckets"`
}

func (t termsAgg) buckets() []Bucket {
	out := make([]Bucket, 0, len(t.Buckets))
	for _, b := range t.Buckets {
		out = append(out, Bucket{Name: fmt.Sprint(b.Key), Count: b.DocCount})
	}
	return out
}

func (m *Matcher) Stats(ctx context.Context) (*IndexStats, error) {
	res, err := m.backend.Search(ctx, statsBody())
	if err != nil {
		return nil, apperrors.Categorize(apperrors.ErrBackendUnavailable, err)
	}

	var aggs struct {
		Systems         termsAgg        `json:"systems"`
		VehicleTypes    termsAgg        `json:"vehicletypes"`
		PopularityStats PopularityStats `json:"popularity_stats"`
	}
	if len(res.Aggregations) > 0 {
		if err := json.Unmarshal(res.Aggregations, &aggs); err != nil {
			return nil, fmt.Errorf("failed to decode aggregations: %w", err)
		}
	}

	return &IndexStats{
		TotalDocuments:  res.Total,
		Systems:         aggs.Systems.buckets(),
		VehicleTypes:    aggs.VehicleTypes.buckets(),
		PopularityStats: aggs.PopularityStats,
		Compat:          m.compat.Snapshot(),
	}, nil
}

// FaultPoint is one fault-point discussion found for a vehicle and symptom.
type FaultPoint struct {
	ID           string   `json:"id"`
	Score        float64  `json:"score"`
	Discussion   string   `json:"discussion"`
	Highlight    string   `json:"highlight,omitempty"`
	VehicleBrand string   `json:"vehiclebrand,omitempty"`
	VehicleType  string   `json:"vehicletype,omitempty"`
	ModelYear    string   `json:"modelyear,omitempty"`
	System       string   `json:"system,omitempty"`
	Part         string   `json:"part,omitempty"`
	FaultCode    string   `json:"faultcode,omitempty"`
	Popularity   float64  `json:"popularity"`
	SearchCount  int      `json:"search_num"`
	Tags         []string `json:"tags,omitempty"`
}

// FaultPointResult is the answer to a FaultPointRequest.
type FaultPointResult struct {
	Total       int               `json:"total"`
	FaultPoints []FaultPoint      `json:"fault_points"`
	Request     FaultPointRequest `json:"request"`
}

func (m *Matcher) FaultPoints(ctx context.Context, req FaultPointRequest) (*FaultPointResult, error) {
	req.Size = max(1, req.Size)
	res, err := m.backend.Search(ctx, faultPointBody(req))
	if err != nil {
		return nil, apperrors.Categorize(apperrors.ErrBackendUnavailable, err)
	}

	out := &FaultPointResult{Total: res.Total, FaultPoints: make([]FaultPoint, 0, len(res.Hits)), Request: req}
	for _, h := range res.Hits {
		rec := catalog.FromSource(h.ID, h.Source)
		out.FaultPoints = append(out.FaultPoints, FaultPoint{
			ID:           rec.ID,
			Score:        h.Score,
			Discussion:   rec.Discussion,
			Highlight:    pickHighlight(h.Highlight, "fault_point", "discussion"),
			VehicleBrand: rec.VehicleBrand,
			VehicleType:  rec.VehicleType,
			ModelYear:    rec.ModelYear,
			System:       rec.System,
			Part:         rec.Part,
			FaultCode:    rec.FaultCode,
			Popularity:   rec.Popularity,
			SearchCount:  rec.SearchCount,
			Tags:         rec.Tags,
		})
	}
	return out, nil
}
