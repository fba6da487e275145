package domain

import (
	"errors"

	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
)

var (
	ErrInvalidUserID   = errors.New("invalid_user_id")
	ErrInvalidTenantID = errors.New("invalid_tenant_id")
	ErrInvalidFlowID   = errors.New("invalid_flow_id")

	// Shared with the pool manager and ledger so callers match one sentinel.
	ErrNoActiveLicense     = licensepooldomain.ErrNoActiveLicense
	ErrInsufficientCredits = ledgerdomain.ErrInsufficientCredits
)
