package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 0)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.Remaining())
}

func TestClientRateLimiterIsPerClient(t *testing.T) {
	l := NewClientRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, BurstSize: 1, CleanupInterval: time.Hour}, zap.NewNop())
	defer l.Stop()

	ok, _ := l.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Allow("10.0.0.1")
	assert.False(t, ok)
	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewClientRateLimiter(RateLimiterConfig{RequestsPerMinute: 6, BurstSize: 1, CleanupInterval: time.Hour}, zap.NewNop())
	defer l.Stop()

	r := gin.New()
	r.Use(RequestID(zap.NewNop()), RateLimitMiddleware(l))
	r.GET("/match", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/match", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/match", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
}

func TestRequestIDReusesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(zap.NewNop()))
	r.GET("/", func(c *gin.Context) {
		id, _ := c.Get("requestID")
		c.String(http.StatusOK, id.(string))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCleanupDropsFullBuckets(t *testing.T) {
	l := NewClientRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Hour}, zap.NewNop())
	defer l.Stop()

	l.Allow("a")
	l.buckets["b"] = NewTokenBucket(5, 1)
	l.cleanup()

	_, stillA := l.buckets["a"]
	_, stillB := l.buckets["b"]
	assert.True(t, stillA)
	assert.False(t, stillB)
}
