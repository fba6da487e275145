// Package domain contains the license-relevant projection of platform users.
package domain

import "time"

type Role string

const (
	RoleTenantAdmin Role = "tenant_admin"
	RoleMember      Role = "member"
)

// User holds at most one active license. Balances are only meaningful while
// LicenseIsActive is true and CreditsUsed never exceeds CreditsAllocated then.
type User struct {
	ID                   string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID             string     `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Email                string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Name                 string     `gorm:"type:varchar(255)" json:"name,omitempty"`
	Role                 Role       `gorm:"type:varchar(32);not null" json:"role"`
	IsPlatformSuperadmin bool       `gorm:"not null" json:"is_platform_superadmin"`
	LicenseTierID        *string    `gorm:"type:varchar(36);index" json:"license_tier_id"`
	LicensePoolID        *string    `gorm:"type:varchar(36)" json:"license_pool_id"`
	CreditsAllocated     int64      `gorm:"not null" json:"credits_allocated"`
	CreditsUsed          int64      `gorm:"not null" json:"credits_used"`
	CreditsPerMonth      *int64     `json:"credits_per_month"`
	LicenseIsActive      bool       `gorm:"not null" json:"license_is_active"`
	LicenseAssignedAt    *time.Time `json:"license_assigned_at"`
	LicenseAssignedBy    *string    `gorm:"type:varchar(36)" json:"license_assigned_by"`
	LicenseExpiresAt     *time.Time `json:"license_expires_at"`
	CreatedAt            time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// RemainingCredits is allocated minus used.
func (u *User) RemainingCredits() int64 {
	if u == nil {
		return 0
	}
	return u.CreditsAllocated - u.CreditsUsed
}

// HasActiveLicense reports whether the user currently holds a seat.
func (u *User) HasActiveLicense() bool {
	return u != nil && u.LicenseIsActive && u.LicenseTierID != nil && *u.LicenseTierID != ""
}
