package domain

import (
	"errors"
	"fmt"
)

var (
	ErrFlowLimitExceeded    = errors.New("flow_limit_exceeded")
	ErrAPICallLimitExceeded = errors.New("api_call_limit_exceeded")
	ErrInvalidUserID        = errors.New("invalid_user_id")
)

// LimitError reports the count that hit a tier limit.
type LimitError struct {
	Kind    LimitKind
	UserID  string
	Current int64
	Limit   int64
	Err     error
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: user %s at %d/%d", e.Err, e.UserID, e.Current, e.Limit)
}

func (e *LimitError) Unwrap() error { return e.Err }
