package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/poolbilling/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	Log   *zap.Logger
	Debug bool
	// ErrorClassifier maps a handler error to the type and code logged with it.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags each request with a request id, echoed in the response
// headers, and logs the request once handled. Health and metrics scrapes
// log at debug.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	base := cfg.Log
	if base == nil {
		base = zap.L()
	}
	base = base.Named("http")

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = obscontext.NewRequestID()
		}
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if last := c.Errors.Last(); last != nil {
			if cfg.ErrorClassifier != nil {
				kind, code := cfg.ErrorClassifier(last.Err)
				fields = append(fields, zap.String("error_type", kind), zap.String("error_code", code))
			}
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		level := zapcore.InfoLevel
		switch {
		case route == "/health" || route == "/metrics":
			level = zapcore.DebugLevel
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		}
		if ce := WithContext(c.Request.Context(), base).Check(level, "http request"); ce != nil {
			ce.Write(fields...)
		}
	}
}
