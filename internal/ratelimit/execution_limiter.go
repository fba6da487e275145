package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditline/internal/config"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"go.uber.org/fx"
)

const keyExecutionIngestTenant = "metering:ingest:tenant:%s"

// ExecutionLimiter throttles metering ingest (execution start and call
// reports) per tenant. Without redis it allows everything.
type ExecutionLimiter struct {
	bucket  *TokenBucket
	rate    float64
	burst   int
	metrics *obsmetrics.Metrics
}

type LimiterParams struct {
	fx.In

	Config     config.Config
	Client     *redis.Client       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewExecutionLimiter(p LimiterParams) *ExecutionLimiter {
	return &ExecutionLimiter{
		bucket:  NewTokenBucket(p.Client),
		rate:    p.Config.Metering.IngestRate,
		burst:   p.Config.Metering.IngestBurst,
		metrics: p.ObsMetrics,
	}
}

func (l *ExecutionLimiter) Enabled() bool {
	return l != nil && l.bucket != nil && l.rate > 0 && l.burst > 0
}

func (l *ExecutionLimiter) AllowTenant(ctx context.Context, tenantID, endpoint string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyExecutionIngestTenant, strings.TrimSpace(tenantID))
	result, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.metrics.RecordRateLimitDenied(ctx, endpoint, "error")
		return result, err
	}
	if result.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, endpoint)
	} else {
		l.metrics.RecordRateLimitDenied(ctx, endpoint, "exhausted")
	}
	return result, nil
}
