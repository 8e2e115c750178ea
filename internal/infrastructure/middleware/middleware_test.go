package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "rendezvous/pkg/errors"
	rlog "rendezvous/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	router.ServeHTTP(w, req)
	return w
}

func TestErrorHandlerMiddleware_AppError(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/missing", func(c *gin.Context) {
		c.Error(apperrors.NewNotFoundError("connection").WithContext("id", "abc"))
	})

	w := serve(router, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error"])
	assert.Equal(t, map[string]interface{}{"id": "abc"}, body["details"])
}

func TestErrorHandlerMiddleware_PlainError(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("disk on fire"))
	})

	w := serve(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.New(core).Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := serve(router, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(RequestLoggerMiddleware(rlog.NewContextLogger(zap.New(core))))

	var seen string
	router.GET("/health", func(c *gin.Context) {
		seen = rlog.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(router, http.MethodGet, "/health", nil)
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, seen)

	w = serve(router, http.MethodGet, "/health", http.Header{RequestIDHeader: []string{"req-42"}})
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[1].ContextMap()["request_id"])
	assert.Equal(t, int64(http.StatusOK), entries[1].ContextMap()["status_code"])
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"*"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/health", http.Header{"Origin": []string{"https://anywhere.example"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSMiddleware_ListedOrigins(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"https://app.example"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/health", http.Header{"Origin": []string{"https://app.example"}})
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodGet, "/health", http.Header{"Origin": []string{"https://other.example"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodOptions, "/health", http.Header{"Origin": []string{"https://app.example"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/ready", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	w := serve(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
