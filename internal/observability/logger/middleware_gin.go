package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/creditline/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	headerRequestID = "X-Request-Id"
	headerTenantID  = "X-Tenant-Id"
	ctxRequestIDKey = "request_id"
)

// quietRoutes are logged at debug so probes and scrapes do not drown request logs.
var quietRoutes = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// ingestRoutes report provider usage at high volume; client mistakes on them
// are logged at debug.
var ingestRoutes = map[string]struct{}{
	"/api/v1/executions":                 {},
	"/api/v1/executions/:trace_id/calls": {},
}

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to the (type, code) pair returned
	// to the client.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware assigns a request id and writes one http_request entry per
// request, carrying the actor resolved by later middleware.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := obscontext.WithRequestID(c.Request.Context(), ensureRequestID(c))
		if tenantID := strings.TrimSpace(c.GetHeader(headerTenantID)); tenantID != "" {
			ctx = obscontext.WithTenantID(ctx, tenantID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
			zap.String("client_ip", c.ClientIP()),
		}
		if traceID := strings.TrimSpace(c.Param("trace_id")); traceID != "" {
			fields = append(fields, zap.String("execution_trace_id", traceID))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString(ctxRequestIDKey))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set(ctxRequestIDKey, requestID)
	c.Header(headerRequestID, requestID)
	return requestID
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	if _, ok := quietRoutes[route]; ok {
		return zap.DebugLevel
	}
	switch {
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case status == http.StatusTooManyRequests:
		return zap.WarnLevel
	}
	if _, ok := ingestRoutes[route]; ok && errorType == "validation_error" {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}
