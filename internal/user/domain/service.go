package domain

import "context"

type CreateRequest struct {
	TenantID             string `json:"tenant_id"`
	Email                string `json:"email"`
	Name                 string `json:"name"`
	Role                 Role   `json:"role"`
	IsPlatformSuperadmin bool   `json:"is_platform_superadmin"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	ListByTenant(ctx context.Context, tenantID string) ([]User, error)
}
