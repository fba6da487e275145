package domain

import (
	"context"

	"github.com/smallbiznis/creditline/pkg/db/pagination"
)

type CreateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type UpdateRequest struct {
	Name   *string       `json:"name"`
	Status *TenantStatus `json:"status"`
}

type ListRequest struct {
	Status    string
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	pagination.PageInfo
	Tenants []*Tenant `json:"tenants"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Tenant, error)
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Tenant, error)
	// Delete removes a tenant that has no users, pools or subscriptions.
	Delete(ctx context.Context, id string) error
}
