package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spine-review-engine/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"correlation_id": c.GetString(CorrelationIDKey)})
	})
	return r
}

func get(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCorrelationID(t *testing.T) {
	r := newRouter(CorrelationID())

	t.Run("generated", func(t *testing.T) {
		w := get(r, nil)
		require.Equal(t, http.StatusOK, w.Code)
		id := w.Header().Get("X-Correlation-ID")
		assert.Len(t, id, 36)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, id, body["correlation_id"])
	})

	t.Run("propagated", func(t *testing.T) {
		w := get(r, map[string]string{"X-Correlation-ID": "corr-123"})
		assert.Equal(t, "corr-123", w.Header().Get("X-Correlation-ID"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := get(newRouter(SecurityHeaders()), nil)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestRateLimit(t *testing.T) {
	t.Run("rejects over the burst", func(t *testing.T) {
		r := newRouter(CorrelationID(), RateLimit(domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}))
		user := map[string]string{"X-User-ID": "rev-1"}

		assert.Equal(t, http.StatusOK, get(r, user).Code)
		assert.Equal(t, http.StatusOK, get(r, user).Code)

		w := get(r, user)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))

		var body domain.EngineError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, domain.ErrRateLimit, body.Code)
		assert.NotEmpty(t, body.RequestID)

		// Buckets are per client.
		assert.Equal(t, http.StatusOK, get(r, map[string]string{"X-User-ID": "rev-2"}).Code)
	})

	t.Run("disabled", func(t *testing.T) {
		r := newRouter(RateLimit(domain.RateLimitConfig{Enabled: false}))
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusOK, get(r, nil).Code)
		}
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRequestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(10 * time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) {
		_, hasDeadline := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"deadline": hasDeadline})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deadline":true}`, w.Body.String())
}

func TestAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := gin.DefaultWriter
	gin.DefaultWriter = &buf
	t.Cleanup(func() { gin.DefaultWriter = prev })

	r := newRouter(CorrelationID(), AuditLogger())
	get(r, map[string]string{"X-Correlation-ID": "corr-9", "X-User-ID": "rev-1"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "corr-9", line["correlation_id"])
	assert.Equal(t, "rev-1", line["user_id"])
	assert.Equal(t, "/ping", line["path"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
}
