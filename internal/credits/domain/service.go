// Package domain contains pre-execution credit checks and balance reporting.
package domain

import (
	"context"

	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
)

// MinCreditsToStart is the balance an execution needs when no estimate is given.
const MinCreditsToStart int64 = 1

// LowCreditsRatio marks a balance as low below this share of the allocation.
const LowCreditsRatio = 0.2

type CheckResult struct {
	CanExecute       bool    `json:"can_execute"`
	IsSuperadmin     bool    `json:"is_superadmin"`
	CreditsAllocated int64   `json:"credits_allocated"`
	CreditsUsed      int64   `json:"credits_used"`
	CreditsRemaining int64   `json:"credits_remaining"`
	CreditsRequired  int64   `json:"credits_required"`
	LicenseTierID    *string `json:"license_tier_id,omitempty"`
	// Unbilled marks an execution allowed to run without a license; its
	// usage is metered but never charged.
	Unbilled bool `json:"unbilled,omitempty"`
}

type TierInfo struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	CreditsPerUSD  float64 `json:"credits_per_usd"`
	DefaultCredits int64   `json:"default_credits"`
}

type CreditStatus struct {
	UserID           string    `json:"user_id"`
	CreditsAllocated int64     `json:"credits_allocated"`
	CreditsUsed      int64     `json:"credits_used"`
	CreditsRemaining int64     `json:"credits_remaining"`
	CreditsPerMonth  *int64    `json:"credits_per_month"`
	UsagePercent     float64   `json:"usage_percent"`
	LicenseIsActive  bool      `json:"license_is_active"`
	LicenseTier      *TierInfo `json:"license_tier"`
	CanExecute       bool      `json:"can_execute"`
	IsLowCredits     bool      `json:"is_low_credits"`
	IsOutOfCredits   bool      `json:"is_out_of_credits"`
}

type TenantCreditSummary struct {
	TenantID         string `json:"tenant_id"`
	LicensedUsers    int64  `json:"licensed_users"`
	TotalUsers       int64  `json:"total_users"`
	CreditsAllocated int64  `json:"credits_allocated"`
	CreditsUsed      int64  `json:"credits_used"`
	CreditsRemaining int64  `json:"credits_remaining"`
}

type Service interface {
	// CheckCanExecute gates an execution. estimated <= 0 means MinCreditsToStart.
	CheckCanExecute(ctx context.Context, userID string, estimated int64) (*CheckResult, error)
	EstimateCreditsForFlow(ctx context.Context, flowID string) (int64, error)
	GetUserCreditStatus(ctx context.Context, userID string) (*CreditStatus, error)
	GetTenantCreditSummary(ctx context.Context, tenantID string) (*TenantCreditSummary, error)
	Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Transaction, error)
}
