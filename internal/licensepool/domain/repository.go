package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, pool *LicensePool) error
	FindByTenantTier(ctx context.Context, db *gorm.DB, tenantID, tierID string) (*LicensePool, error)
	FindByTenantTierForUpdate(ctx context.Context, db *gorm.DB, tenantID, tierID string) (*LicensePool, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID string) ([]LicensePool, error)
	SetTotal(ctx context.Context, db *gorm.DB, id string, total, available int64, now time.Time) error
	// Consume takes one slot. It reports false when no slot was available.
	Consume(ctx context.Context, db *gorm.DB, tenantID, tierID string, now time.Time) (bool, error)
	// Release returns one slot. It reports false when nothing was assigned.
	Release(ctx context.Context, db *gorm.DB, tenantID, tierID string, now time.Time) (bool, error)
}
