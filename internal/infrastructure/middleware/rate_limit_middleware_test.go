package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rendezvous/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func get(router http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newLimitedRouter(cfg)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "192.0.2.1:1000", nil).Code)
	}
}

func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newLimitedRouter(cfg)

	assert.Equal(t, http.StatusOK, get(router, "192.0.2.1:1000", nil).Code)

	limited := get(router, "192.0.2.1:1001", nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	// a different client has its own budget
	assert.Equal(t, http.StatusOK, get(router, "192.0.2.2:1000", nil).Code)
}

func TestHTTPRateLimitMiddleware_ForwardedClientsAreSeparate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	router := newLimitedRouter(cfg)

	proxy := "10.0.0.1:443"
	first := http.Header{"X-Forwarded-For": []string{"203.0.113.1, 10.0.0.1"}}
	second := http.Header{"X-Forwarded-For": []string{"203.0.113.2, 10.0.0.1"}}

	assert.Equal(t, http.StatusOK, get(router, proxy, first).Code)
	assert.Equal(t, http.StatusOK, get(router, proxy, second).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, proxy, first).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:5555"
	assert.Equal(t, "192.0.2.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.4 , 10.0.0.1")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.9", clientIP(req))
}
