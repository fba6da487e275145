package domain

import "errors"

var (
	ErrTierNotFound          = errors.New("license_tier_not_found")
	ErrTierInUse             = errors.New("license_tier_in_use")
	ErrTierNameTaken         = errors.New("license_tier_name_taken")
	ErrInvalidTierID         = errors.New("invalid_license_tier_id")
	ErrInvalidTierName       = errors.New("invalid_license_tier_name")
	ErrInvalidDefaultCredits = errors.New("invalid_default_credits")
	ErrInvalidCreditsPerUSD  = errors.New("invalid_credits_per_usd")
	ErrInvalidMultiplier     = errors.New("invalid_pricing_multiplier")
	ErrInvalidLimit          = errors.New("invalid_tier_limit")
	ErrInvalidPrice          = errors.New("invalid_monthly_price")
)
