package retrieval

import (
	"context"
	"time"

	apperrors "fault-matcher/errors"
	"fault-matcher/match"
	"fault-matcher/metrics"
	"fault-matcher/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTopKVector = 50
	defaultTopKLex    = 50
	defaultTopNReturn = 3
	decisionWindow    = 10
	pathLocal         = "local"
)

// LocalRequest is one query against the local dual-channel path.
type LocalRequest struct {
	Query      string
	System     string
	Part       string
	Model      string
	Year       string
	TopKVec    int
	TopKKw     int
	TopNReturn int
}

func (r LocalRequest) withDefaults() LocalRequest {
	if r.TopKVec <= 0 {
		r.TopKVec = defaultTopKVector
	}
	if r.TopKKw <= 0 {
		r.TopKKw = defaultTopKLex
	}
	if r.TopNReturn <= 0 {
		r.TopNReturn = defaultTopNReturn
	}
	return r
}

// ChannelReport summarizes one channel call for the response metadata.
type ChannelReport struct {
	Hits      int    `json:"hits"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// LocalMetadata is attached to every local match response.
type LocalMetadata struct {
	Channels  map[match.Source]ChannelReport `json:"channels"`
	PoolSize  int                            `json:"pool_size"`
	Reranked  bool                           `json:"reranked"`
	Stats     match.PoolStats                `json:"stats"`
	Model     string                         `json:"model,omitempty"`
	Year      string                         `json:"year,omitempty"`
	ElapsedMS int64                          `json:"elapsed_ms"`
}

// Health lists the local channels that are wired.
type Health struct {
	Channels []string `json:"channels"`
	Reranker bool     `json:"reranker"`
}

// Orchestrator drives the local match path. It holds no per-request state
// and is safe for concurrent use.
type Orchestrator struct {
	vector   VectorIndex
	lexical  LexicalIndex
	reranker Reranker
	router   *match.Router
	weights  match.Weights
	logger   *zap.Logger
}

// NewOrchestrator wires the local path. Any collaborator may be nil: a missing
// index is reported as a failed channel and a missing reranker leaves the
// rerank signal absent.
func NewOrchestrator(vector VectorIndex, lexical LexicalIndex, reranker Reranker, router *match.Router, weights match.Weights, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		vector:   vector,
		lexical:  lexical,
		reranker: reranker,
		router:   router,
		weights:  weights,
		logger:   logger,
	}
}

func (o *Orchestrator) Health() Health {
	h := Health{Channels: []string{}, Reranker: o.reranker != nil}
	if o.vector != nil {
		h.Channels = append(h.Channels, "local_vector")
	}
	if o.lexical != nil {
		h.Channels = append(h.Channels, "local_lexical")
	}
	return h
}

// Match runs both channels concurrently, then merges, calibrates, fuses and
// routes the pool. It always returns a well-formed response.
func (o *Orchestrator) Match(ctx context.Context, req LocalRequest) *match.Response {
	start := time.Now()
	req = req.withDefaults()
	query := utils.NormalizeQuery(req.Query)

	var vecOut, lexOut Outcome
	var g errgroup.Group
	g.Go(func() error {
		vecOut = runChannel(ctx, match.SourceVector, o.vectorQuery(), query, req.TopKVec)
		return nil
	})
	g.Go(func() error {
		lexOut = runChannel(ctx, match.SourceLexical, o.lexicalQuery(), query, req.TopKKw)
		return nil
	})
	_ = g.Wait()

	meta := LocalMetadata{
		Channels: make(map[match.Source]ChannelReport, 2),
		Model:    req.Model,
		Year:     req.Year,
	}
	for _, out := range []Outcome{vecOut, lexOut} {
		report := ChannelReport{Hits: len(out.Hits), ElapsedMS: out.Elapsed.Milliseconds()}
		if !out.OK() {
			report.Hits = 0
			report.Error = out.Err.Error()
			metrics.RecordChannelFailure(string(out.Channel))
			o.logger.Warn("Retrieval channel failed, continuing without it",
				zap.String("channel", string(out.Channel)),
				zap.Error(out.Err))
		}
		meta.Channels[out.Channel] = report
	}

	pool := match.Merge(vecOut.HitList(), lexOut.HitList())
	cands := pool.Candidates()
	meta.PoolSize = len(cands)
	meta.Reranked = o.rerank(ctx, query, cands)

	stats := match.ComputePoolStats(cands)
	meta.Stats = stats
	ranked := match.Fuse(cands, stats, o.weights, match.Query{System: req.System, Part: req.Part})
	window := ranked[:min(decisionWindow, len(ranked))]

	decision := o.router.Decide(ctx, query, window, match.DecideOptions{Arbitrate: true})

	elapsed := time.Since(start)
	meta.ElapsedMS = elapsed.Milliseconds()
	metrics.RecordDecision(pathLocal, string(decision.Mode))
	metrics.ObserveMatchLatency(pathLocal, elapsed)

	o.logger.Debug("Local match finished",
		zap.String("query", query),
		zap.Int("pool", len(cands)),
		zap.String("mode", string(decision.Mode)),
		zap.Float64("confidence", decision.Confidence),
		zap.Duration("elapsed", elapsed))

	return &match.Response{
		Query:    query,
		Top:      window[:min(req.TopNReturn, len(window))],
		Decision: &decision,
		Metadata: meta,
	}
}

// rerank attaches re-rank scores to cands. On any failure the signal stays
// absent and fusion falls back for it.
func (o *Orchestrator) rerank(ctx context.Context, query string, cands []*match.Candidate) bool {
	if o.reranker == nil || len(cands) == 0 {
		return false
	}
	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Text
	}
	scores, err := o.reranker.Rerank(ctx, query, texts)
	if err != nil {
		if !apperrors.IsNotConfigured(err) {
			metrics.RecordChannelFailure("rerank")
			o.logger.Warn("Rerank failed, fusing without rerank signal", zap.Error(err))
		}
		return false
	}
	if len(scores) != len(cands) {
		o.logger.Warn("Rerank returned misaligned scores, ignoring",
			zap.Int("expected", len(cands)),
			zap.Int("got", len(scores)))
		return false
	}
	for i, c := range cands {
		c.SetRerank(scores[i])
	}
	return true
}

func (o *Orchestrator) vectorQuery() queryFunc {
	if o.vector == nil {
		return nil
	}
	return o.vector.Query
}

func (o *Orchestrator) lexicalQuery() queryFunc {
	if o.lexical == nil {
		return nil
	}
	return o.lexical.Query
}
