package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tenantColumns = `id, name, slug, status, tier_id, renewal_date, amount, license_pools, created_at, updated_at`

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tenants (`+tenantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		tenant.Status,
		tenant.TierID,
		tenant.RenewalDate,
		tenant.Amount,
		tenant.LicensePools,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*tenantdomain.Tenant, error) {
	return r.findByID(ctx, db, id, "")
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*tenantdomain.Tenant, error) {
	return r.findByID(ctx, tx, id, db.ForUpdate(tx))
}

func (r *repo) findByID(ctx context.Context, conn *gorm.DB, id string, lock string) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := conn.WithContext(ctx).Raw(
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`+lock,
		id,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == "" {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM tenants WHERE slug = ?`,
		slug,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter tenantdomain.ListFilter) ([]*tenantdomain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE 1 = 1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.CursorAt != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, *filter.CursorAt, *filter.CursorAt, filter.CursorID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	var tenants []*tenantdomain.Tenant
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) UpdateProfile(ctx context.Context, db *gorm.DB, id string, name string, status tenantdomain.TenantStatus, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET name = ?, status = ?, updated_at = ? WHERE id = ?`,
		name,
		status,
		now,
		id,
	).Error
}

func (r *repo) ApplySubscription(ctx context.Context, db *gorm.DB, id string, tierID string, status tenantdomain.TenantStatus, renewalDate *time.Time, amount decimal.Decimal, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants
		 SET tier_id = ?, status = ?, renewal_date = ?, amount = ?, updated_at = ?
		 WHERE id = ?`,
		tierID,
		status,
		renewalDate,
		amount,
		now,
		id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id string, status tenantdomain.TenantStatus, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) UpdateLicensePools(ctx context.Context, db *gorm.DB, id string, pools datatypes.JSONMap, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET license_pools = ?, updated_at = ? WHERE id = ?`,
		pools,
		now,
		id,
	).Error
}

func (r *repo) CountDependents(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	var row struct {
		Users         int64
		Pools         int64
		Subscriptions int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
		   (SELECT COUNT(1) FROM users WHERE tenant_id = ?) AS users,
		   (SELECT COUNT(1) FROM license_pools WHERE tenant_id = ?) AS pools,
		   (SELECT COUNT(1) FROM subscriptions WHERE tenant_id = ?) AS subscriptions`,
		id,
		id,
		id,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Users + row.Pools + row.Subscriptions, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Exec(`DELETE FROM tenants WHERE id = ?`, id).Error
}
