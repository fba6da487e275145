package repository

import (
	"context"
	"time"

	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, tier_id, license_count, amount, currency, billing_cycle, status,
	 start_date, end_date, renewal_date, next_payment_date, last_payment_date, payment_method_id,
	 monthly_credits, cancelled_at, cancellation_reason, cancelled_by, created_by, created_at, updated_at`

const historyColumns = `id, subscription_id, tenant_id, action, from_tier_id, to_tier_id, from_amount, to_amount,
	 from_license_count, to_license_count, reason, performed_by, metadata, created_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, s *subscriptiondomain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.TenantID,
		s.TierID,
		s.LicenseCount,
		s.Amount,
		s.Currency,
		s.BillingCycle,
		s.Status,
		s.StartDate,
		s.EndDate,
		s.RenewalDate,
		s.NextPaymentDate,
		s.LastPaymentDate,
		s.PaymentMethodID,
		s.MonthlyCredits,
		s.CancelledAt,
		s.CancellationReason,
		s.CancelledBy,
		s.CreatedBy,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, s *subscriptiondomain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET tier_id = ?, license_count = ?, amount = ?, status = ?, end_date = ?, renewal_date = ?,
		     next_payment_date = ?, last_payment_date = ?, monthly_credits = ?, cancelled_at = ?,
		     cancellation_reason = ?, cancelled_by = ?, updated_at = ?
		 WHERE id = ?`,
		s.TierID,
		s.LicenseCount,
		s.Amount,
		s.Status,
		s.EndDate,
		s.RenewalDate,
		s.NextPaymentDate,
		s.LastPaymentDate,
		s.MonthlyCredits,
		s.CancelledAt,
		s.CancellationReason,
		s.CancelledBy,
		s.UpdatedAt,
		s.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn, `WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn, `WHERE id = ?`+db.ForUpdate(conn), id)
}

func (r *repo) FindActiveByTenant(ctx context.Context, conn *gorm.DB, tenantID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn,
		`WHERE tenant_id = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		tenantID,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, args ...any) (*subscriptiondomain.Subscription, error) {
	var s subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions `+where,
		args...,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) ListDueForRenewal(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = ? AND renewal_date <= ?
		 ORDER BY renewal_date ASC, id ASC
		 LIMIT ?`,
		subscriptiondomain.SubscriptionStatusActive,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertHistory(ctx context.Context, conn *gorm.DB, h *subscriptiondomain.SubscriptionHistory) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO subscription_history (`+historyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID,
		h.SubscriptionID,
		h.TenantID,
		h.Action,
		h.FromTierID,
		h.ToTierID,
		h.FromAmount,
		h.ToAmount,
		h.FromLicenseCount,
		h.ToLicenseCount,
		h.Reason,
		h.PerformedBy,
		h.Metadata,
		h.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, conn *gorm.DB, subscriptionID string) ([]subscriptiondomain.SubscriptionHistory, error) {
	var items []subscriptiondomain.SubscriptionHistory
	err := conn.WithContext(ctx).Raw(
		`SELECT `+historyColumns+`
		 FROM subscription_history
		 WHERE subscription_id = ?
		 ORDER BY created_at ASC, id ASC`,
		subscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
