package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPoolNotFound               = errors.New("pool_not_found")
	ErrPoolExhausted              = errors.New("pool_exhausted")
	ErrPoolReductionBelowAssigned = errors.New("pool_reduction_below_assigned")
	ErrAlreadyLicensed            = errors.New("user_already_licensed")
	ErrNoActiveLicense            = errors.New("no_active_license")
	ErrInvalidTotalCount          = errors.New("invalid_total_count")
	ErrInvalidTenantID            = errors.New("invalid_tenant_id")
	ErrInvalidTierID              = errors.New("invalid_tier_id")
	ErrInvalidUserID              = errors.New("invalid_user_id")
)

// PoolError carries the pool counters observed when a mutation was refused.
type PoolError struct {
	Op        string
	TenantID  string
	TierID    string
	Available int64
	Assigned  int64
	Requested int64
	Err       error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("%s: %s tenant=%s tier=%s available=%d assigned=%d requested=%d",
		e.Err, e.Op, e.TenantID, e.TierID, e.Available, e.Assigned, e.Requested)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}
