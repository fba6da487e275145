package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/creditline/internal/clock"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       userdomain.Repository
	TenantRepo tenantdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       userdomain.Repository
	tenantRepo tenantdomain.Repository
}

func NewService(p Params) userdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("user.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
	}
}

func (s *Service) Create(ctx context.Context, req userdomain.CreateRequest) (*userdomain.User, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, userdomain.ErrInvalidTenantID
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, userdomain.ErrInvalidEmail
	}
	role := userdomain.Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	switch role {
	case "":
		role = userdomain.RoleMember
	case userdomain.RoleMember, userdomain.RoleTenantAdmin:
	default:
		return nil, userdomain.ErrInvalidRole
	}

	now := s.clock.Now()
	user := &userdomain.User{
		ID:                   uuid.NewString(),
		TenantID:             tenantID,
		Email:                email,
		Name:                 strings.TrimSpace(req.Name),
		Role:                 role,
		IsPlatformSuperadmin: req.IsPlatformSuperadmin,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenantRepo.FindByID(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		existing, err := s.repo.FindByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return userdomain.ErrEmailTaken
		}
		if err := s.repo.Insert(ctx, tx, user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return userdomain.ErrEmailTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("tenant_id", user.TenantID),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

func (s *Service) Get(ctx context.Context, id string) (*userdomain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, userdomain.ErrInvalidUserID
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]userdomain.User, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, userdomain.ErrInvalidTenantID
	}
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}
