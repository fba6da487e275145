package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	TenantID        string          `json:"tenant_id"`
	TierID          string          `json:"tier_id"`
	LicenseCount    int64           `json:"license_count"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID string          `json:"payment_method_id"`
	CreatedBy       string          `json:"-"`
}

type CancelRequest struct {
	SubscriptionID string `json:"-"`
	Reason         string `json:"reason"`
	CancelledBy    string `json:"-"`
}

type ChangeTierRequest struct {
	SubscriptionID string           `json:"-"`
	NewTierID      string           `json:"new_tier_id"`
	LicenseCount   *int64           `json:"license_count"`
	Amount         *decimal.Decimal `json:"amount"`
	ChangedBy      string           `json:"-"`
}

// RenewResult reports the top-ups applied by one renewal.
type RenewResult struct {
	Subscription  *Subscription `json:"subscription"`
	UsersToppedUp int           `json:"users_topped_up"`
	CreditsAdded  int64         `json:"credits_added"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Renew(ctx context.Context, subscriptionID string) (*RenewResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*Subscription, error)
	ChangeTier(ctx context.Context, req ChangeTierRequest) (*Subscription, error)
	Get(ctx context.Context, id string) (*Subscription, error)
	GetActiveByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	ListHistory(ctx context.Context, subscriptionID string) ([]SubscriptionHistory, error)
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
}
