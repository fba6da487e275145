package domain

import "context"

type Service interface {
	// CheckCanCreateFlow returns a *LimitError wrapping ErrFlowLimitExceeded at max_flows.
	CheckCanCreateFlow(ctx context.Context, userID string) (*CheckResult, error)
	// CheckAPICallLimit counts deductions since the start of the UTC month.
	CheckAPICallLimit(ctx context.Context, userID string) (*CheckResult, error)
	GetUserLimitsStatus(ctx context.Context, userID string) (*Status, error)
}
