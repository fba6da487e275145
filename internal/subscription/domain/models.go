// Package domain contains tenant subscriptions and their append-only history.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

type HistoryAction string

const (
	HistoryActionCreated   HistoryAction = "created"
	HistoryActionRenewed   HistoryAction = "renewed"
	HistoryActionCancelled HistoryAction = "cancelled"
	HistoryActionUpgraded  HistoryAction = "upgraded"
)

const (
	DefaultCurrency     = "USD"
	DefaultBillingCycle = "monthly"
	// BillingPeriod is the fixed length of one monthly cycle.
	BillingPeriod = 30 * 24 * time.Hour
)

// Subscription captures a tenant's paid agreement for one tier.
type Subscription struct {
	ID                 string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID           string             `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	TierID             string             `gorm:"type:varchar(36);not null" json:"tier_id"`
	LicenseCount       int64              `gorm:"not null;check:chk_subscriptions_license_count,license_count >= 0" json:"license_count"`
	Amount             decimal.Decimal    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency           string             `gorm:"type:varchar(3);not null" json:"currency"`
	BillingCycle       string             `gorm:"type:varchar(32);not null" json:"billing_cycle"`
	Status             SubscriptionStatus `gorm:"type:varchar(32);not null;index:idx_subscriptions_status_renewal,priority:1" json:"status"`
	StartDate          time.Time          `gorm:"not null" json:"start_date"`
	EndDate            *time.Time         `json:"end_date,omitempty"`
	RenewalDate        time.Time          `gorm:"not null;index:idx_subscriptions_status_renewal,priority:2" json:"renewal_date"`
	NextPaymentDate    *time.Time         `json:"next_payment_date,omitempty"`
	LastPaymentDate    *time.Time         `json:"last_payment_date,omitempty"`
	PaymentMethodID    *string            `gorm:"type:varchar(255)" json:"payment_method_id,omitempty"`
	MonthlyCredits     int64              `gorm:"not null;default:0" json:"monthly_credits"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason *string            `gorm:"type:text" json:"cancellation_reason,omitempty"`
	CancelledBy        *string            `gorm:"type:varchar(64)" json:"cancelled_by,omitempty"`
	CreatedBy          *string            `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionHistory records one lifecycle change. Rows are never updated.
type SubscriptionHistory struct {
	ID               string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SubscriptionID   string            `gorm:"type:varchar(36);not null;index" json:"subscription_id"`
	TenantID         string            `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Action           HistoryAction     `gorm:"type:varchar(32);not null" json:"action"`
	FromTierID       *string           `gorm:"type:varchar(36)" json:"from_tier_id,omitempty"`
	ToTierID         *string           `gorm:"type:varchar(36)" json:"to_tier_id,omitempty"`
	FromAmount       *decimal.Decimal  `gorm:"type:decimal(12,2)" json:"from_amount,omitempty"`
	ToAmount         *decimal.Decimal  `gorm:"type:decimal(12,2)" json:"to_amount,omitempty"`
	FromLicenseCount *int64            `json:"from_license_count,omitempty"`
	ToLicenseCount   *int64            `json:"to_license_count,omitempty"`
	Reason           *string           `gorm:"type:text" json:"reason,omitempty"`
	PerformedBy      *string           `gorm:"type:varchar(64)" json:"performed_by,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (SubscriptionHistory) TableName() string { return "subscription_history" }
