package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredits         = errors.New("invalid_credits_amount")
	ErrInvalidUserID          = errors.New("invalid_user_id")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrInsufficientCredits    = errors.New("insufficient_credits")
	ErrDuplicateUsageRecord   = errors.New("duplicate_usage_record")
	ErrNothingToRefund        = errors.New("nothing_to_refund")
)

// InsufficientCreditsError reports the shortfall of a rejected deduction.
type InsufficientCreditsError struct {
	UserID    string
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%s: user %s requires %d credits, %d available", ErrInsufficientCredits, e.UserID, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
