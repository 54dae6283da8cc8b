package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow_Burst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 3})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiterAllow_SeparateClients(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestLimiterAllow_Replenishes(t *testing.T) {
	l := New(Config{RequestsPerSecond: 50, Burst: 1})
	defer l.Stop()

	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Allow("k"))
}

func TestLimiterEvict(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Hour})
	defer l.Stop()

	l.Allow("old")
	l.evict(time.Now().Add(time.Second))

	l.mu.Lock()
	assert.Empty(t, l.clients)
	l.mu.Unlock()
	l.Stop() // idempotent
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/rules", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/rules", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/rules", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 20.0, cfg.RequestsPerSecond)
	assert.Equal(t, 40, cfg.Burst)
}
