package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonTenantRate = "tenant-rate"

// allowIngest applies the per-tenant metering ingest bucket. A limiter
// failure is reported as unavailable rather than letting traffic through.
func (s *Server) allowIngest(c *gin.Context, tenantID string) error {
	if s.ingestLimiter == nil || !s.ingestLimiter.Enabled() {
		return nil
	}
	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)

	result, err := s.ingestLimiter.AllowTenant(ctx, tenantID, endpoint)
	if err != nil {
		logger.FromContext(ctx).Warn("metering ingest rate limit check failed", zap.Error(err))
		return ErrServiceUnavailable
	}
	if result.Allowed {
		return nil
	}

	retryAfter := int64(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	logger.FromContext(ctx).Warn("metering ingest rate limit exceeded",
		zap.String("reason", rateLimitReasonTenantRate),
		zap.String("endpoint", endpoint),
		zap.String("tenant_id", tenantID),
	)
	c.Header(headerRetryAfter, strconv.FormatInt(retryAfter, 10))
	c.Header(headerRateLimited, rateLimitReasonTenantRate)
	return ErrRateLimited
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
