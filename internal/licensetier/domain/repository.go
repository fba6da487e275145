package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tier *LicenseTier) error
	Update(ctx context.Context, db *gorm.DB, tier *LicenseTier) error
	Delete(ctx context.Context, db *gorm.DB, id string) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*LicenseTier, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*LicenseTier, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]LicenseTier, error)
	// CountReferences returns pool rows plus licensed users pointing at the tier.
	CountReferences(ctx context.Context, db *gorm.DB, id string) (int64, error)
}
