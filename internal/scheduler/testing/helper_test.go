package testing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/clock"
	schedtesting "github.com/smallbiznis/creditline/internal/scheduler/testing"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"github.com/smallbiznis/creditline/internal/testutil/dbtest"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedSubscription(t *testing.T, conn *gorm.DB, id string, status subscriptiondomain.SubscriptionStatus, renewal time.Time) {
	t.Helper()
	sub := &subscriptiondomain.Subscription{
		ID:           id,
		TenantID:     "t1",
		TierID:       "pro",
		LicenseCount: 1,
		Amount:       decimal.Zero,
		Currency:     "USD",
		BillingCycle: "monthly",
		Status:       status,
		StartDate:    renewal.AddDate(0, -1, 0),
		RenewalDate:  renewal,
		CreatedAt:    renewal.AddDate(0, -1, 0),
		UpdatedAt:    renewal.AddDate(0, -1, 0),
	}
	require.NoError(t, conn.Create(sub).Error)
}

func TestTimeAcceleratorMovesActiveRenewals(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedTenant(t, conn, "t1")
	dbtest.SeedTier(t, conn, "pro", 1000)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	ta := schedtesting.NewTimeAccelerator(conn, clk)
	ctx := context.Background()

	seedSubscription(t, conn, "sub-active", subscriptiondomain.SubscriptionStatusActive, now.AddDate(0, 0, 20))
	seedSubscription(t, conn, "sub-other", subscriptiondomain.SubscriptionStatusActive, now.AddDate(0, 0, 5))
	seedSubscription(t, conn, "sub-cancelled", subscriptiondomain.SubscriptionStatusCancelled, now.AddDate(0, 0, 20))

	info, err := ta.GetRenewalInfo(ctx, "sub-active")
	require.NoError(t, err)
	require.False(t, info.Due)
	require.True(t, info.TimeUntilRenewal > 0)

	require.NoError(t, ta.FastForwardRenewal(ctx, "sub-active"))
	info, err = ta.GetRenewalInfo(ctx, "sub-active")
	require.NoError(t, err)
	require.True(t, info.Due)

	require.NoError(t, ta.FastForwardRenewal(ctx, "sub-cancelled"))
	info, err = ta.GetRenewalInfo(ctx, "sub-cancelled")
	require.NoError(t, err)
	require.False(t, info.Due)

	moved, err := ta.FastForwardAllRenewals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)
}
