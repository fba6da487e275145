package repository

import (
	"context"

	tierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	"gorm.io/gorm"
)

const tierColumns = `id, name, description, default_credits, default_credits_per_month, credits_per_usd,
	 pricing_multiplier, monthly_price, max_users, max_flows, max_api_calls, features, is_active,
	 created_by, created_at, updated_at`

type repo struct{}

func Provide() tierdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tier *tierdomain.LicenseTier) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO license_tiers (`+tierColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tier.ID,
		tier.Name,
		tier.Description,
		tier.DefaultCredits,
		tier.DefaultCreditsPerMonth,
		tier.CreditsPerUSD,
		tier.PricingMultiplier,
		tier.MonthlyPrice,
		tier.MaxUsers,
		tier.MaxFlows,
		tier.MaxAPICalls,
		tier.Features,
		tier.IsActive,
		tier.CreatedBy,
		tier.CreatedAt,
		tier.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tier *tierdomain.LicenseTier) error {
	return db.WithContext(ctx).Exec(
		`UPDATE license_tiers
		 SET name = ?, description = ?, default_credits = ?, default_credits_per_month = ?,
		     credits_per_usd = ?, pricing_multiplier = ?, monthly_price = ?, max_users = ?,
		     max_flows = ?, max_api_calls = ?, features = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		tier.Name,
		tier.Description,
		tier.DefaultCredits,
		tier.DefaultCreditsPerMonth,
		tier.CreditsPerUSD,
		tier.PricingMultiplier,
		tier.MonthlyPrice,
		tier.MaxUsers,
		tier.MaxFlows,
		tier.MaxAPICalls,
		tier.Features,
		tier.IsActive,
		tier.UpdatedAt,
		tier.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Exec(`DELETE FROM license_tiers WHERE id = ?`, id).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*tierdomain.LicenseTier, error) {
	var tier tierdomain.LicenseTier
	err := db.WithContext(ctx).Raw(
		`SELECT `+tierColumns+` FROM license_tiers WHERE id = ?`,
		id,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == "" {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*tierdomain.LicenseTier, error) {
	var tier tierdomain.LicenseTier
	err := db.WithContext(ctx).Raw(
		`SELECT `+tierColumns+` FROM license_tiers WHERE name = ?`,
		name,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == "" {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]tierdomain.LicenseTier, error) {
	var tiers []tierdomain.LicenseTier
	query := `SELECT ` + tierColumns + ` FROM license_tiers`
	args := []any{}
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY monthly_price ASC, name ASC`
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repo) CountReferences(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	var row struct {
		Pools int64
		Users int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
		   (SELECT COUNT(1) FROM license_pools WHERE tier_id = ?) AS pools,
		   (SELECT COUNT(1) FROM users WHERE license_tier_id = ? AND license_is_active = ?) AS users`,
		id,
		id,
		true,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Pools + row.Users, nil
}
