package handlers

import (
	"net/http"

	"fault-matcher/hybrid"
	"fault-matcher/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const unavailableMessage = "the search backend is not configured or not reachable"

type hybridMatchBody struct {
	Q               string   `json:"q"`
	System          string   `json:"system"`
	Part            string   `json:"part"`
	VehicleType     string   `json:"vehicle_type"`
	VehicleTypeAlt  string   `json:"vehicletype"`
	FaultCode       string   `json:"fault_code"`
	Size            int      `json:"size"`
	UseDecision     *bool    `json:"use_decision"`
	UseSemantic     *bool    `json:"use_semantic"`
	SemanticWeight  *float64 `json:"semantic_weight"`
	VectorK         int      `json:"vector_k"`
	UseArbitration  bool     `json:"use_arbitration"`
	ArbitrationTopN int      `json:"arbitration_topn"`
}

func orTrue(b *bool) bool {
	return b == nil || *b
}

func (b hybridMatchBody) request() hybrid.Request {
	vehicleType := b.VehicleType
	if vehicleType == "" {
		vehicleType = b.VehicleTypeAlt
	}
	return hybrid.Request{
		Query: b.Q,
		Filters: hybrid.Filters{
			System:      b.System,
			Part:        b.Part,
			VehicleType: vehicleType,
			FaultCode:   b.FaultCode,
		},
		Size:            b.Size,
		UseDecision:     orTrue(b.UseDecision),
		UseSemantic:     orTrue(b.UseSemantic),
		SemanticWeight:  b.SemanticWeight,
		VectorK:         b.VectorK,
		UseArbitration:  b.UseArbitration,
		ArbitrationTopN: b.ArbitrationTopN,
	}
}

// HybridMatch handles POST /hybrid/match. Backend failures come back as the
// unavailable envelope with status 200.
func (h *MatchHandler) HybridMatch(c *gin.Context) {
	var body hybridMatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Q == "" {
		respondWithClientError(c, http.StatusBadRequest, "field q is required")
		return
	}
	if h.hybrid == nil {
		respondBackendUnavailable(c, body.Q, unavailableMessage)
		return
	}

	resp, err := h.hybrid.Match(c.Request.Context(), body.request())
	if err != nil {
		middleware.Logger(c, h.logger).Error("Hybrid match failed", zap.String("query", body.Q), zap.Error(err))
		respondBackendUnavailable(c, body.Q, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HybridStats handles GET /hybrid/stats.
func (h *MatchHandler) HybridStats(c *gin.Context) {
	if h.hybrid == nil {
		c.JSON(http.StatusOK, gin.H{"error": "hybrid backend unavailable", "message": unavailableMessage})
		return
	}
	stats, err := h.hybrid.Stats(c.Request.Context())
	if err != nil {
		middleware.Logger(c, h.logger).Error("Hybrid stats failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"error": "hybrid backend unavailable", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// FaultPoints handles POST /hybrid/fault-points.
func (h *MatchHandler) FaultPoints(c *gin.Context) {
	var req hybrid.FaultPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if h.hybrid == nil {
		c.JSON(http.StatusOK, gin.H{"error": "hybrid backend unavailable", "message": unavailableMessage, "total": 0, "fault_points": []any{}})
		return
	}
	res, err := h.hybrid.FaultPoints(c.Request.Context(), req)
	if err != nil {
		middleware.Logger(c, h.logger).Error("Fault point lookup failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"error": "hybrid backend unavailable", "message": err.Error(), "total": 0, "fault_points": []any{}})
		return
	}
	c.JSON(http.StatusOK, res)
}
