package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondWithClientError returns a client error (no logging needed for validation errors)
func respondWithClientError(c *gin.Context, statusCode int, userMessage string) {
	c.JSON(statusCode, gin.H{"error": userMessage})
}

// respondBackendUnavailable answers with the empty-result envelope. The status
// is 200; callers branch on the "error" field.
func respondBackendUnavailable(c *gin.Context, query, message string) {
	c.JSON(http.StatusOK, unavailableEnvelope(query, message))
}

func unavailableEnvelope(query, message string) gin.H {
	return gin.H{
		"error":   "hybrid backend unavailable",
		"message": message,
		"query":   query,
		"total":   0,
		"top":     []any{},
	}
}
