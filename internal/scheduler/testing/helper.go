// Package testing moves subscription renewal dates so renewal runs can be
// exercised without waiting a billing period.
package testing

import (
	"context"
	"time"

	"github.com/smallbiznis/creditline/internal/clock"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites renewal dates relative to clk.
type TimeAccelerator struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewTimeAccelerator(db *gorm.DB, clk clock.Clock) *TimeAccelerator {
	return &TimeAccelerator{db: db, clock: clk}
}

// FastForwardRenewal makes one active subscription due a minute ago.
func (ta *TimeAccelerator) FastForwardRenewal(ctx context.Context, subscriptionID string) error {
	now := ta.clock.Now()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET renewal_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		now.Add(-time.Minute),
		now,
		subscriptionID,
		subscriptiondomain.SubscriptionStatusActive,
	).Error
}

// FastForwardAllRenewals makes every active subscription due and returns the
// number moved.
func (ta *TimeAccelerator) FastForwardAllRenewals(ctx context.Context) (int64, error) {
	now := ta.clock.Now()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET renewal_date = ?, updated_at = ?
		 WHERE status = ? AND renewal_date > ?`,
		now.Add(-time.Minute),
		now,
		subscriptiondomain.SubscriptionStatusActive,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RenewalInfo shows a subscription's renewal position for debugging.
type RenewalInfo struct {
	ID               string
	Status           subscriptiondomain.SubscriptionStatus
	RenewalDate      time.Time
	TimeUntilRenewal time.Duration
	Due              bool
}

func (ta *TimeAccelerator) GetRenewalInfo(ctx context.Context, subscriptionID string) (*RenewalInfo, error) {
	var row struct {
		ID          string
		Status      subscriptiondomain.SubscriptionStatus
		RenewalDate time.Time
	}
	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, status, renewal_date
		 FROM subscriptions
		 WHERE id = ?`,
		subscriptionID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	now := ta.clock.Now()
	return &RenewalInfo{
		ID:               row.ID,
		Status:           row.Status,
		RenewalDate:      row.RenewalDate,
		TimeUntilRenewal: row.RenewalDate.Sub(now),
		Due:              !now.Before(row.RenewalDate) && row.Status == subscriptiondomain.SubscriptionStatusActive,
	}, nil
}
