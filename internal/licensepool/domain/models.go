// Package domain contains per-tenant license pools, one row per (tenant, tier).
package domain

import "time"

// LicensePool tracks the seats a tenant holds for one tier. The counters
// always satisfy available + assigned = total and are never negative.
type LicensePool struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID       string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_license_pools_tenant_tier,priority:1" json:"tenant_id"`
	TierID         string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_license_pools_tenant_tier,priority:2" json:"tier_id"`
	TotalCount     int64     `gorm:"not null;check:chk_license_pools_total,total_count >= 0" json:"total_count"`
	AvailableCount int64     `gorm:"not null;check:chk_license_pools_available,available_count >= 0" json:"available_count"`
	AssignedCount  int64     `gorm:"not null;check:chk_license_pools_assigned,assigned_count >= 0" json:"assigned_count"`
	Version        int64     `gorm:"not null;default:0;check:chk_license_pools_balance,available_count + assigned_count = total_count" json:"version"`
	CreatedBy      *string   `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (LicensePool) TableName() string { return "license_pools" }
