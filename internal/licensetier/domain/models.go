// Package domain contains the license tier templates that seats are drawn from.
package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	FeatureMinimumCreditsPerTrace = "minimum_credits_per_trace"
	FeatureMaximumCreditsPerTrace = "maximum_credits_per_trace"
)

var (
	DefaultCreditsPerUSD     = decimal.NewFromInt(100)
	DefaultPricingMultiplier = decimal.NewFromInt(1)
)

// LicenseTier is a product template: seat price, credit grants and limits.
// Nil limits mean unlimited.
type LicenseTier struct {
	ID                     string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name                   string            `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Description            string            `gorm:"type:text" json:"description,omitempty"`
	DefaultCredits         int64             `gorm:"not null" json:"default_credits"`
	DefaultCreditsPerMonth *int64            `json:"default_credits_per_month,omitempty"`
	CreditsPerUSD          decimal.Decimal   `gorm:"column:credits_per_usd;type:decimal(12,4);not null" json:"credits_per_usd"`
	PricingMultiplier      decimal.Decimal   `gorm:"type:decimal(8,4);not null" json:"pricing_multiplier"`
	MonthlyPrice           decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"monthly_price"`
	MaxUsers               *int64            `json:"max_users"`
	MaxFlows               *int64            `json:"max_flows"`
	MaxAPICalls            *int64            `gorm:"column:max_api_calls" json:"max_api_calls"`
	Features               datatypes.JSONMap `gorm:"type:json" json:"features,omitempty"`
	IsActive               bool              `gorm:"not null" json:"is_active"`
	CreatedBy              *string           `gorm:"type:varchar(36)" json:"created_by,omitempty"`
	CreatedAt              time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (LicenseTier) TableName() string { return "license_tiers" }

// EffectiveMultiplier treats a missing or zero multiplier as 1.
func (t *LicenseTier) EffectiveMultiplier() decimal.Decimal {
	if t == nil || t.PricingMultiplier.IsZero() {
		return DefaultPricingMultiplier
	}
	return t.PricingMultiplier
}

// EffectiveCreditsPerUSD treats a missing or zero rate as the platform default.
func (t *LicenseTier) EffectiveCreditsPerUSD() decimal.Decimal {
	if t == nil || t.CreditsPerUSD.IsZero() {
		return DefaultCreditsPerUSD
	}
	return t.CreditsPerUSD
}

// FeatureInt reads an integer feature value, accepting the shapes JSON decoding produces.
func (t *LicenseTier) FeatureInt(key string) (int64, bool) {
	if t == nil || t.Features == nil {
		return 0, false
	}
	raw, ok := t.Features[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
