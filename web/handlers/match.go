package handlers

import (
	"context"
	"net/http"

	"fault-matcher/hybrid"
	"fault-matcher/match"
	"fault-matcher/retrieval"
	"fault-matcher/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LocalMatcher is the local dual-channel path.
type LocalMatcher interface {
	Match(ctx context.Context, req retrieval.LocalRequest) *match.Response
	Health() retrieval.Health
}

// HybridMatcher is the search-engine backed path.
type HybridMatcher interface {
	Match(ctx context.Context, req hybrid.Request) (*match.Response, error)
	Stats(ctx context.Context) (*hybrid.IndexStats, error)
	FaultPoints(ctx context.Context, req hybrid.FaultPointRequest) (*hybrid.FaultPointResult, error)
	Status() hybrid.CompatSnapshot
}

type MatchHandler struct {
	local  LocalMatcher
	hybrid HybridMatcher
	logger *zap.Logger
}

// NewMatchHandler builds the handler; hybrid may be nil when no backend is
// configured or reachable.
func NewMatchHandler(local LocalMatcher, hybrid HybridMatcher, logger *zap.Logger) *MatchHandler {
	return &MatchHandler{local: local, hybrid: hybrid, logger: logger}
}

type localMatchQuery struct {
	Q          string `form:"q"`
	System     string `form:"system"`
	Part       string `form:"part"`
	Model      string `form:"model"`
	Year       string `form:"year"`
	TopKVec    int    `form:"topk_vec"`
	TopKKw     int    `form:"topk_kw"`
	TopNReturn int    `form:"topn_return"`
}

func (q localMatchQuery) request() retrieval.LocalRequest {
	return retrieval.LocalRequest{
		Query:      q.Q,
		System:     q.System,
		Part:       q.Part,
		Model:      q.Model,
		Year:       q.Year,
		TopKVec:    q.TopKVec,
		TopKKw:     q.TopKKw,
		TopNReturn: q.TopNReturn,
	}
}

func (h *MatchHandler) Health(c *gin.Context) {
	local := h.local.Health()
	sources := append([]string{}, local.Channels...)
	resp := gin.H{
		"status":             "ok",
		"local":              local,
		"hybrid_available":   h.hybrid != nil,
		"semantic_available": false,
	}
	if h.hybrid != nil {
		status := h.hybrid.Status()
		sources = append(sources, "opensearch")
		if status.SemanticEnabled {
			sources = append(sources, "opensearch_semantic")
		}
		resp["semantic_available"] = status.SemanticEnabled
		resp["hybrid"] = status
	}
	resp["data_sources"] = sources
	c.JSON(http.StatusOK, resp)
}

// Match handles GET /match on the local path.
func (h *MatchHandler) Match(c *gin.Context) {
	var q localMatchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	if q.Q == "" {
		respondWithClientError(c, http.StatusBadRequest, "query parameter q is required")
		return
	}

	c.JSON(http.StatusOK, h.local.Match(c.Request.Context(), q.request()))
}

type combinedQuery struct {
	localMatchQuery
	VehicleType string `form:"vehicletype"`
	UseHybrid   *bool  `form:"use_hybrid"`
}

// Recommendation compares the local and hybrid decisions of a combined match.
type Recommendation struct {
	UseLocal             bool               `json:"use_local"`
	UseHybrid            bool               `json:"use_hybrid"`
	Preferred            string             `json:"preferred"`
	ConfidenceComparison map[string]float64 `json:"confidence_comparison"`
}

func recommend(local, hybridResp *match.Response) Recommendation {
	localConf, hybridConf := local.Confidence(), hybridResp.Confidence()
	rec := Recommendation{
		UseLocal:             local.IsDirect(),
		UseHybrid:            hybridResp.IsDirect(),
		ConfidenceComparison: map[string]float64{"local": localConf, "hybrid": hybridConf},
	}
	switch {
	case localConf == 0 && hybridConf == 0:
		rec.Preferred = "none"
	case hybridConf > localConf:
		rec.Preferred = "hybrid"
	default:
		rec.Preferred = "local"
	}
	return rec
}

// Combined handles GET /match/combined: both paths run concurrently and the
// response carries both results plus a recommendation.
func (h *MatchHandler) Combined(c *gin.Context) {
	var q combinedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	if q.Q == "" {
		respondWithClientError(c, http.StatusBadRequest, "query parameter q is required")
		return
	}
	useHybrid := h.hybrid != nil && (q.UseHybrid == nil || *q.UseHybrid)
	logger := middleware.Logger(c, h.logger)
	ctx := c.Request.Context()

	var localResp, hybridResp *match.Response
	var g errgroup.Group
	g.Go(func() error {
		localResp = h.local.Match(ctx, q.request())
		return nil
	})
	if useHybrid {
		g.Go(func() error {
			resp, err := h.hybrid.Match(ctx, hybrid.Request{
				Query:       q.Q,
				Filters:     hybrid.Filters{System: q.System, Part: q.Part, VehicleType: q.VehicleType},
				UseDecision: true,
				UseSemantic: true,
			})
			if err != nil {
				logger.Warn("Hybrid path failed in combined match", zap.Error(err))
				return nil
			}
			hybridResp = resp
			return nil
		})
	}
	_ = g.Wait()

	c.JSON(http.StatusOK, gin.H{
		"query":          localResp.Query,
		"local_result":   localResp,
		"hybrid_result":  hybridResp,
		"recommendation": recommend(localResp, hybridResp),
	})
}
