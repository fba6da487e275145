package domain

import (
	"context"

	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"gorm.io/gorm"
)

type CreateOrUpdatePoolRequest struct {
	TenantID   string `json:"-"`
	TierID     string `json:"tier_id"`
	TotalCount int64  `json:"total_count"`
	CreatedBy  string `json:"-"`
}

type AssignRequest struct {
	UserID     string `json:"-"`
	TierID     string `json:"tier_id"`
	AssignedBy string `json:"-"`
}

type UpgradeRequest struct {
	UserID          string `json:"-"`
	NewTierID       string `json:"new_tier_id"`
	PreserveCredits bool   `json:"preserve_credits"`
	UpgradedBy      string `json:"-"`
}

type Service interface {
	CreateOrUpdatePool(ctx context.Context, req CreateOrUpdatePoolRequest) (*LicensePool, error)
	// CreateOrUpdatePoolTx runs inside the caller's transaction.
	CreateOrUpdatePoolTx(ctx context.Context, tx *gorm.DB, req CreateOrUpdatePoolRequest) (*LicensePool, error)
	Assign(ctx context.Context, req AssignRequest) (*userdomain.User, error)
	Unassign(ctx context.Context, userID string) (*userdomain.User, error)
	Upgrade(ctx context.Context, req UpgradeRequest) (*userdomain.User, error)
	GetTenantPools(ctx context.Context, tenantID string) ([]LicensePool, error)
}
