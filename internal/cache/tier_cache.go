package cache

import (
	"strings"
	"time"

	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
)

const defaultTierTTL = 5 * time.Minute

// TierCache stores hot-path license tier lookups for metering and enforcement.
type TierCache interface {
	GetTier(tierID string) (licensetierdomain.LicenseTier, bool)
	SetTier(tier licensetierdomain.LicenseTier)
	InvalidateTier(tierID string)
}

type tierCache struct {
	tiers Cache[string, licensetierdomain.LicenseTier]
	ttl   time.Duration
}

func NewTierCache() TierCache {
	return &tierCache{
		tiers: NewTTLCache[string, licensetierdomain.LicenseTier](),
		ttl:   defaultTierTTL,
	}
}

func (c *tierCache) GetTier(tierID string) (licensetierdomain.LicenseTier, bool) {
	return c.tiers.Get(cacheKey(tierID))
}

func (c *tierCache) SetTier(tier licensetierdomain.LicenseTier) {
	if tier.ID == "" {
		return
	}
	c.tiers.Set(cacheKey(tier.ID), tier, c.ttl)
}

func (c *tierCache) InvalidateTier(tierID string) {
	c.tiers.Delete(cacheKey(tierID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
