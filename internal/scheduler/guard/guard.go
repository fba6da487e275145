package guard

import (
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
)

var (
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrRenewalNotDue         = errors.New("subscription_renewal_not_due")
	ErrMissingRenewalDate    = errors.New("subscription_missing_renewal_date")
)

// EnsureSubscriptionCanRenew re-checks a claimed subscription before the
// renewal job tops up its users.
func EnsureSubscriptionCanRenew(status subscriptiondomain.SubscriptionStatus, renewalDate time.Time, now time.Time) error {
	if status != subscriptiondomain.SubscriptionStatusActive {
		return ErrSubscriptionNotActive
	}
	if renewalDate.IsZero() {
		return ErrMissingRenewalDate
	}
	if now.Before(renewalDate) {
		return ErrRenewalNotDue
	}
	return nil
}
