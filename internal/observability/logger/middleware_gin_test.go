package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newEngine(cfg MiddlewareConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(cfg))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusInternalServerError)
	})
	return r
}

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newEngine(MiddlewareConfig{Log: zap.New(core)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	requestID := w.Header().Get("X-Request-Id")
	assert.Len(t, requestID, 26)
	require.Len(t, logs.All(), 1)
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, requestID, fields["request_id"])
	assert.Equal(t, "/ping", fields["route"])
}

func TestGinMiddlewareKeepsIncomingRequestID(t *testing.T) {
	r := newEngine(MiddlewareConfig{Log: zap.NewNop()})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-Id"))
}

func TestGinMiddlewareClassifiesErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newEngine(MiddlewareConfig{
		Log: zap.New(core),
		ErrorClassifier: func(error) (string, string) {
			return "internal", "boom"
		},
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Len(t, logs.All(), 1)
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "boom", entry.ContextMap()["error_code"])
}
