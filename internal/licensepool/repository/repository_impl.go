package repository

import (
	"context"
	"time"

	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"gorm.io/gorm"
)

const poolColumns = `id, tenant_id, tier_id, total_count, available_count, assigned_count, version,
	 created_by, created_at, updated_at`

type repo struct{}

func Provide() licensepooldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, pool *licensepooldomain.LicensePool) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO license_pools (`+poolColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pool.ID,
		pool.TenantID,
		pool.TierID,
		pool.TotalCount,
		pool.AvailableCount,
		pool.AssignedCount,
		pool.Version,
		pool.CreatedBy,
		pool.CreatedAt,
		pool.UpdatedAt,
	).Error
}

func (r *repo) FindByTenantTier(ctx context.Context, conn *gorm.DB, tenantID, tierID string) (*licensepooldomain.LicensePool, error) {
	return r.find(ctx, conn, tenantID, tierID, "")
}

func (r *repo) FindByTenantTierForUpdate(ctx context.Context, conn *gorm.DB, tenantID, tierID string) (*licensepooldomain.LicensePool, error) {
	return r.find(ctx, conn, tenantID, tierID, db.ForUpdate(conn))
}

func (r *repo) find(ctx context.Context, conn *gorm.DB, tenantID, tierID, lock string) (*licensepooldomain.LicensePool, error) {
	var pool licensepooldomain.LicensePool
	err := conn.WithContext(ctx).Raw(
		`SELECT `+poolColumns+`
		 FROM license_pools
		 WHERE tenant_id = ? AND tier_id = ?`+lock,
		tenantID,
		tierID,
	).Scan(&pool).Error
	if err != nil {
		return nil, err
	}
	if pool.ID == "" {
		return nil, nil
	}
	return &pool, nil
}

func (r *repo) ListByTenant(ctx context.Context, conn *gorm.DB, tenantID string) ([]licensepooldomain.LicensePool, error) {
	var pools []licensepooldomain.LicensePool
	err := conn.WithContext(ctx).Raw(
		`SELECT `+poolColumns+`
		 FROM license_pools
		 WHERE tenant_id = ?
		 ORDER BY created_at ASC, id ASC`,
		tenantID,
	).Scan(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// SetTotal resizes a pool. A resize the counter constraints reject means
// seats were assigned under it.
func (r *repo) SetTotal(ctx context.Context, conn *gorm.DB, id string, total, available int64, now time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE license_pools
		 SET total_count = ?, available_count = ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		total,
		available,
		now,
		id,
	).Error
	if db.IsCheckViolation(err) {
		return licensepooldomain.ErrPoolReductionBelowAssigned
	}
	return err
}

func (r *repo) Consume(ctx context.Context, conn *gorm.DB, tenantID, tierID string, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE license_pools
		 SET available_count = available_count - 1,
		     assigned_count = assigned_count + 1,
		     version = version + 1,
		     updated_at = ?
		 WHERE tenant_id = ? AND tier_id = ? AND available_count > 0`,
		now,
		tenantID,
		tierID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Release(ctx context.Context, conn *gorm.DB, tenantID, tierID string, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE license_pools
		 SET available_count = available_count + 1,
		     assigned_count = assigned_count - 1,
		     version = version + 1,
		     updated_at = ?
		 WHERE tenant_id = ? AND tier_id = ? AND assigned_count > 0`,
		now,
		tenantID,
		tierID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
