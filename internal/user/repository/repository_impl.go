package repository

import (
	"context"
	"time"

	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"gorm.io/gorm"
)

const userColumns = `id, tenant_id, email, name, role, is_platform_superadmin, license_tier_id,
	 license_pool_id, credits_allocated, credits_used, credits_per_month, license_is_active,
	 license_assigned_at, license_assigned_by, license_expires_at, created_at, updated_at`

type repo struct{}

func Provide() userdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *userdomain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.TenantID,
		user.Email,
		user.Name,
		user.Role,
		user.IsPlatformSuperadmin,
		user.LicenseTierID,
		user.LicensePoolID,
		user.CreditsAllocated,
		user.CreditsUsed,
		user.CreditsPerMonth,
		user.LicenseIsActive,
		user.LicenseAssignedAt,
		user.LicenseAssignedBy,
		user.LicenseExpiresAt,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*userdomain.User, error) {
	return r.findOne(ctx, db, `id = ?`, id, "")
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*userdomain.User, error) {
	return r.findOne(ctx, tx, `id = ?`, id, db.ForUpdate(tx))
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*userdomain.User, error) {
	return r.findOne(ctx, db, `email = ?`, email, "")
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, arg any, lock string) (*userdomain.User, error) {
	var user userdomain.User
	err := conn.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE `+where+lock,
		arg,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID string) ([]userdomain.User, error) {
	var users []userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE tenant_id = ? ORDER BY created_at ASC, id ASC`,
		tenantID,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) ListRenewable(ctx context.Context, db *gorm.DB, tenantID string) ([]userdomain.User, error) {
	var users []userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+`
		 FROM users
		 WHERE tenant_id = ? AND license_is_active = ? AND credits_per_month IS NOT NULL
		 ORDER BY id ASC`,
		tenantID,
		true,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) UpdateLicense(ctx context.Context, db *gorm.DB, id string, state userdomain.LicenseState, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET license_tier_id = ?, license_pool_id = ?, credits_allocated = ?, credits_used = ?,
		     credits_per_month = ?, license_is_active = ?, license_assigned_at = ?,
		     license_assigned_by = ?, license_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		state.LicenseTierID,
		state.LicensePoolID,
		state.CreditsAllocated,
		state.CreditsUsed,
		state.CreditsPerMonth,
		state.LicenseIsActive,
		state.LicenseAssignedAt,
		state.LicenseAssignedBy,
		state.LicenseExpiresAt,
		now,
		id,
	).Error
}

func (r *repo) UpdateCredits(ctx context.Context, db *gorm.DB, id string, allocated, used int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET credits_allocated = ?, credits_used = ?, updated_at = ? WHERE id = ?`,
		allocated,
		used,
		now,
		id,
	).Error
}
