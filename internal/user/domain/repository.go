package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LicenseState is the full set of license and balance columns written together.
type LicenseState struct {
	LicenseTierID     *string
	LicensePoolID     *string
	CreditsAllocated  int64
	CreditsUsed       int64
	CreditsPerMonth   *int64
	LicenseIsActive   bool
	LicenseAssignedAt *time.Time
	LicenseAssignedBy *string
	LicenseExpiresAt  *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*User, error)
	// FindByIDForUpdate locks the row on dialects that support FOR UPDATE.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*User, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID string) ([]User, error)
	// ListRenewable returns licensed users of the tenant with a monthly grant.
	ListRenewable(ctx context.Context, db *gorm.DB, tenantID string) ([]User, error)
	UpdateLicense(ctx context.Context, db *gorm.DB, id string, state LicenseState, now time.Time) error
	UpdateCredits(ctx context.Context, db *gorm.DB, id string, allocated, used int64, now time.Time) error
}
