package domain

import "errors"

var (
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrSubscriptionNotActive    = errors.New("subscription_not_active")
	ErrActiveSubscriptionExists = errors.New("active_subscription_exists")
	ErrInvalidSubscriptionID    = errors.New("invalid_subscription_id")
	ErrInvalidTenantID          = errors.New("invalid_tenant_id")
	ErrInvalidTierID            = errors.New("invalid_tier_id")
	ErrInvalidLicenseCount      = errors.New("invalid_license_count")
	ErrInvalidAmount            = errors.New("invalid_amount")
)
