package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	Name                   string           `json:"name"`
	Description            string           `json:"description"`
	DefaultCredits         int64            `json:"default_credits"`
	DefaultCreditsPerMonth *int64           `json:"default_credits_per_month"`
	CreditsPerUSD          *decimal.Decimal `json:"credits_per_usd"`
	PricingMultiplier      *decimal.Decimal `json:"pricing_multiplier"`
	MonthlyPrice           decimal.Decimal  `json:"monthly_price"`
	MaxUsers               *int64           `json:"max_users"`
	MaxFlows               *int64           `json:"max_flows"`
	MaxAPICalls            *int64           `json:"max_api_calls"`
	Features               map[string]any   `json:"features"`
	IsActive               *bool            `json:"is_active"`
	CreatedBy              string           `json:"-"`
}

// UpdateRequest carries a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Name                   *string          `json:"name"`
	Description            *string          `json:"description"`
	DefaultCredits         *int64           `json:"default_credits"`
	DefaultCreditsPerMonth *int64           `json:"default_credits_per_month"`
	CreditsPerUSD          *decimal.Decimal `json:"credits_per_usd"`
	PricingMultiplier      *decimal.Decimal `json:"pricing_multiplier"`
	MonthlyPrice           *decimal.Decimal `json:"monthly_price"`
	MaxUsers               *int64           `json:"max_users"`
	MaxFlows               *int64           `json:"max_flows"`
	MaxAPICalls            *int64           `json:"max_api_calls"`
	Features               map[string]any   `json:"features"`
	IsActive               *bool            `json:"is_active"`
}

type ListRequest struct {
	ActiveOnly bool
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*LicenseTier, error)
	Get(ctx context.Context, id string) (*LicenseTier, error)
	GetByName(ctx context.Context, name string) (*LicenseTier, error)
	List(ctx context.Context, req ListRequest) ([]LicenseTier, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*LicenseTier, error)
	Delete(ctx context.Context, id string) error
	// EnsureDefaults creates the BASIC, PRO and ENTERPRISE templates when absent.
	EnsureDefaults(ctx context.Context) error
}
