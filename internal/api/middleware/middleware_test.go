package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func router(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/forms", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r *gin.Engine, uid string) int {
	req := httptest.NewRequest(http.MethodGet, "/forms", nil)
	if uid != "" {
		req.Header.Set("X-Caller-UID", uid)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitPerCaller(t *testing.T) {
	r := router(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, KeyHeader: "X-Caller-UID"}))

	assert.Equal(t, http.StatusOK, get(r, "20010"))
	assert.Equal(t, http.StatusOK, get(r, "20010"))
	assert.Equal(t, http.StatusTooManyRequests, get(r, "20010"))

	// Another caller has its own bucket.
	assert.Equal(t, http.StatusOK, get(r, "20020"))
}

func TestRateLimitBody(t *testing.T) {
	r := router(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, KeyHeader: "X-Caller-UID"}))
	require.Equal(t, http.StatusOK, get(r, "20010"))

	req := httptest.NewRequest(http.MethodGet, "/forms", nil)
	req.Header.Set("X-Caller-UID", "20010")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded","kind":"RateLimited"}`, w.Body.String())
}

func TestRateLimitFallsBackToIP(t *testing.T) {
	r := router(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, KeyHeader: "X-Caller-UID"}))

	assert.Equal(t, http.StatusOK, get(r, ""))
	assert.Equal(t, http.StatusTooManyRequests, get(r, ""))
}

func TestGlobalRateLimit(t *testing.T) {
	r := router(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, get(r, "20010"))
	assert.Equal(t, http.StatusTooManyRequests, get(r, "20020"))
}

func TestLimiterSetEvictsIdleCallers(t *testing.T) {
	now := time.Unix(1000, 0)
	set := newLimiterSet(RateLimitConfig{RequestsPerSecond: 10, Burst: 10, IdleTTL: time.Minute}, func() time.Time { return now })

	require.True(t, set.allow("a"))
	require.True(t, set.allow("b"))
	assert.Equal(t, 2, set.size())

	now = now.Add(30 * time.Second)
	require.True(t, set.allow("b"))

	now = now.Add(40 * time.Second)
	require.True(t, set.allow("c"))
	assert.Equal(t, 2, set.size(), "a idled past the TTL")
}

func TestCORSPreflightAllowsCallerHeader(t *testing.T) {
	r := router(CORS(DefaultCORSConfig("X-Caller-UID")))

	req := httptest.NewRequest(http.MethodOptions, "/forms", nil)
	req.Header.Set("Origin", "http://launcher.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Caller-UID")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Caller-Uid")
}
