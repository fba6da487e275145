package domain

import "errors"

var (
	ErrTenantNotFound    = errors.New("tenant_not_found")
	ErrTenantInUse       = errors.New("tenant_in_use")
	ErrInvalidTenantID   = errors.New("invalid_tenant_id")
	ErrInvalidTenantName = errors.New("invalid_tenant_name")
	ErrInvalidStatus     = errors.New("invalid_tenant_status")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrSlugUnavailable   = errors.New("tenant_slug_unavailable")
)
