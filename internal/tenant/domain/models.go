// Package domain contains tenants, the accounts that own license pools.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusCancelled TenantStatus = "cancelled"
)

// Tenant is an account. LicensePools mirrors the license_pools rows keyed by
// tier id and is rewritten in the same transaction as every pool mutation.
type Tenant struct {
	ID           string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string            `gorm:"type:varchar(255);not null" json:"name"`
	Slug         string            `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`
	Status       TenantStatus      `gorm:"type:varchar(32);not null" json:"status"`
	TierID       *string           `gorm:"type:varchar(36)" json:"tier_id"`
	RenewalDate  *time.Time        `json:"renewal_date"`
	Amount       decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount"`
	LicensePools datatypes.JSONMap `gorm:"type:json" json:"license_pools"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// PoolSnapshot is one entry of the tenant's license_pools mirror.
type PoolSnapshot struct {
	TotalCount     int64     `json:"total_count"`
	AvailableCount int64     `json:"available_count"`
	AssignedCount  int64     `json:"assigned_count"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
