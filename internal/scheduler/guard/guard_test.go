package guard

import (
	"testing"
	"time"

	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	"github.com/stretchr/testify/require"
)

func TestEnsureSubscriptionCanRenew(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, EnsureSubscriptionCanRenew(subscriptiondomain.SubscriptionStatusActive, now, now))
	require.NoError(t, EnsureSubscriptionCanRenew(subscriptiondomain.SubscriptionStatusActive, now.Add(-time.Hour), now))
	require.ErrorIs(t, EnsureSubscriptionCanRenew(subscriptiondomain.SubscriptionStatusActive, now.Add(time.Hour), now), ErrRenewalNotDue)
	require.ErrorIs(t, EnsureSubscriptionCanRenew(subscriptiondomain.SubscriptionStatusCancelled, now, now), ErrSubscriptionNotActive)
	require.ErrorIs(t, EnsureSubscriptionCanRenew(subscriptiondomain.SubscriptionStatusActive, time.Time{}, now), ErrMissingRenewalDate)
}
