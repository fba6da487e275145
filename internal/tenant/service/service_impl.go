package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/clock"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"github.com/smallbiznis/creditline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxSlugAttempts = 20

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  tenantdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  tenantdomain.Repository
}

func NewService(p Params) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req tenantdomain.CreateRequest) (*tenantdomain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tenantdomain.ErrInvalidTenantName
	}
	base := slug.Make(strings.TrimSpace(req.Slug))
	if base == "" {
		base = slug.Make(name)
	}
	if base == "" {
		return nil, tenantdomain.ErrInvalidTenantName
	}

	now := s.clock.Now()
	tenant := &tenantdomain.Tenant{
		ID:           uuid.NewString(),
		Name:         name,
		Status:       tenantdomain.TenantStatusActive,
		Amount:       decimal.Zero,
		LicensePools: datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate, err := s.availableSlug(ctx, tx, base)
		if err != nil {
			return err
		}
		tenant.Slug = candidate
		if err := s.repo.Insert(ctx, tx, tenant); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return tenantdomain.ErrSlugUnavailable
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("slug", tenant.Slug),
	)
	return tenant, nil
}

func (s *Service) availableSlug(ctx context.Context, tx *gorm.DB, base string) (string, error) {
	candidate := base
	for attempt := 2; attempt <= maxSlugAttempts+1; attempt++ {
		exists, err := s.repo.SlugExists(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
	return "", tenantdomain.ErrSlugUnavailable
}

func (s *Service) Get(ctx context.Context, id string) (*tenantdomain.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, tenantdomain.ErrInvalidTenantID
	}
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) List(ctx context.Context, req tenantdomain.ListRequest) (tenantdomain.ListResponse, error) {
	limit := pagination.NormalizePageSize(req.PageSize)
	filter := tenantdomain.ListFilter{
		Status: tenantdomain.TenantStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Limit:  int(limit) + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return tenantdomain.ListResponse{}, tenantdomain.ErrInvalidPageToken
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return tenantdomain.ListResponse{}, tenantdomain.ErrInvalidPageToken
		}
		filter.CursorAt = &at
		filter.CursorID = cursor.ID
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return tenantdomain.ListResponse{}, err
	}
	page, info := pagination.BuildCursorPageInfo(rows, limit, func(t *tenantdomain.Tenant) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        t.ID,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	return tenantdomain.ListResponse{PageInfo: *info, Tenants: page}, nil
}

func (s *Service) Update(ctx context.Context, id string, req tenantdomain.UpdateRequest) (*tenantdomain.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, tenantdomain.ErrInvalidTenantID
	}

	var updated *tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return tenantdomain.ErrInvalidTenantName
			}
			tenant.Name = name
		}
		if req.Status != nil {
			status, ok := parseStatus(*req.Status)
			if !ok {
				return tenantdomain.ErrInvalidStatus
			}
			tenant.Status = status
		}
		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateProfile(ctx, tx, tenant.ID, tenant.Name, tenant.Status, tenant.UpdatedAt); err != nil {
			return err
		}
		updated = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return tenantdomain.ErrInvalidTenantID
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		dependents, err := s.repo.CountDependents(ctx, tx, id)
		if err != nil {
			return err
		}
		if dependents > 0 {
			return tenantdomain.ErrTenantInUse
		}
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("tenant deleted", zap.String("tenant_id", id))
	return nil
}

func parseStatus(status tenantdomain.TenantStatus) (tenantdomain.TenantStatus, bool) {
	switch tenantdomain.TenantStatus(strings.ToLower(strings.TrimSpace(string(status)))) {
	case tenantdomain.TenantStatusActive:
		return tenantdomain.TenantStatusActive, true
	case tenantdomain.TenantStatusSuspended:
		return tenantdomain.TenantStatusSuspended, true
	case tenantdomain.TenantStatusCancelled:
		return tenantdomain.TenantStatusCancelled, true
	default:
		return "", false
	}
}
