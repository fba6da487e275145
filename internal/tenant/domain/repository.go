package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status   TenantStatus
	CursorAt *time.Time
	CursorID string
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*Tenant, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Tenant, error)
	UpdateProfile(ctx context.Context, db *gorm.DB, id string, name string, status TenantStatus, now time.Time) error
	// ApplySubscription mirrors the active subscription's tier, status, renewal date and amount.
	ApplySubscription(ctx context.Context, db *gorm.DB, id string, tierID string, status TenantStatus, renewalDate *time.Time, amount decimal.Decimal, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id string, status TenantStatus, now time.Time) error
	UpdateLicensePools(ctx context.Context, db *gorm.DB, id string, pools datatypes.JSONMap, now time.Time) error
	CountDependents(ctx context.Context, db *gorm.DB, id string) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id string) error
}
