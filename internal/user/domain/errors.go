package domain

import "errors"

var (
	ErrUserNotFound    = errors.New("user_not_found")
	ErrInvalidUserID   = errors.New("invalid_user_id")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrEmailTaken      = errors.New("email_taken")
	ErrInvalidRole     = errors.New("invalid_role")
	ErrInvalidTenantID = errors.New("invalid_tenant_id")
)
