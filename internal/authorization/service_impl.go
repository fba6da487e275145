package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/creditline/internal/config"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	roleSuperadmin = "role:superadmin"
	roleSystem     = "role:system"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db             *gorm.DB
	log            *zap.Logger
	enforcer       *casbin.SyncedEnforcer
	enabled        bool
	platformAdmins map[string]struct{}
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	admins := make(map[string]struct{}, len(p.Config.Authz.PlatformAdmins))
	for _, id := range p.Config.Authz.PlatformAdmins {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &ServiceImpl{
		db:             p.DB,
		log:            p.Log.Named("authorization.service"),
		enforcer:       p.Enforcer,
		enabled:        p.Config.Authz.Enabled,
		platformAdmins: admins,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, tenantID string, object string, action string) error {
	if !s.enabled {
		return nil
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := s.resolveRole(ctx, actor, tenantID)
	if err != nil {
		s.logDenied(actor, tenantID, object, action, err)
		return err
	}

	domain := domainFor(tenantID)
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, tenantID, object, action, ErrForbidden)
		return ErrForbidden
	}
	return nil
}

// resolveRole maps an actor onto its role inside tenantID. Users only hold a
// role in their own tenant; superadmins hold one everywhere.
func (s *ServiceImpl) resolveRole(ctx context.Context, actor string, tenantID string) (string, error) {
	if actor == ActorSystem {
		return roleSystem, nil
	}
	if !strings.HasPrefix(actor, ActorUserPrefix) {
		return "", ErrInvalidActor
	}
	userID := strings.TrimSpace(strings.TrimPrefix(actor, ActorUserPrefix))
	if userID == "" {
		return "", ErrInvalidActor
	}
	if _, ok := s.platformAdmins[userID]; ok {
		return roleSuperadmin, nil
	}

	var row struct {
		TenantID             string `gorm:"column:tenant_id"`
		Role                 string `gorm:"column:role"`
		IsPlatformSuperadmin bool   `gorm:"column:is_platform_superadmin"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT tenant_id, role, is_platform_superadmin
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	if row.TenantID == "" {
		return "", ErrForbidden
	}
	if row.IsPlatformSuperadmin {
		return roleSuperadmin, nil
	}
	if tenantID == PlatformDomain || row.TenantID != tenantID {
		return "", ErrForbidden
	}

	role := strings.ToLower(strings.TrimSpace(row.Role))
	if role == "" {
		role = string(userdomain.RoleMember)
	}
	return fmt.Sprintf("role:%s", role), nil
}

// ensureGrouping keeps exactly one role per subject and domain, replacing a
// stale one after a role change.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) logDenied(actor, tenantID, object, action string, err error) {
	s.log.Info("authorization denied",
		zap.String("actor", actor),
		zap.String("tenant_id", tenantID),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(err),
	)
}

func domainFor(tenantID string) string {
	if tenantID == PlatformDomain {
		return PlatformDomain
	}
	return fmt.Sprintf("tenant:%s", tenantID)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Member permissions
		{"role:member", ObjectTenant, ActionTenantView},
		{"role:member", ObjectUser, ActionUserView},
		{"role:member", ObjectCredits, ActionCreditsView},
		{"role:member", ObjectCredits, ActionCreditsCheck},
		{"role:member", ObjectLimits, ActionLimitsView},
		{"role:member", ObjectExecution, ActionExecutionStart},
		{"role:member", ObjectExecution, ActionExecutionRecord},
		{"role:member", ObjectExecution, ActionExecutionFinalize},

		// Tenant admin permissions
		{"role:tenant_admin", ObjectTenant, ActionTenantView},
		{"role:tenant_admin", ObjectTenant, ActionTenantUpdate},
		{"role:tenant_admin", ObjectUser, ActionUserCreate},
		{"role:tenant_admin", ObjectUser, ActionUserView},
		{"role:tenant_admin", ObjectLicense, ActionLicenseAssign},
		{"role:tenant_admin", ObjectLicense, ActionLicenseUnassign},
		{"role:tenant_admin", ObjectLicense, ActionLicenseUpgrade},
		{"role:tenant_admin", ObjectPool, ActionPoolView},
		{"role:tenant_admin", ObjectCredits, ActionCreditsView},
		{"role:tenant_admin", ObjectCredits, ActionCreditsCheck},
		{"role:tenant_admin", ObjectCredits, ActionCreditsRefund},
		{"role:tenant_admin", ObjectLimits, ActionLimitsView},
		{"role:tenant_admin", ObjectTransaction, ActionTransactionView},
		{"role:tenant_admin", ObjectSubscription, ActionSubscriptionView},
		{"role:tenant_admin", ObjectExecution, ActionExecutionStart},
		{"role:tenant_admin", ObjectExecution, ActionExecutionRecord},
		{"role:tenant_admin", ObjectExecution, ActionExecutionFinalize},
	}
	// Superadmins and system actors hold every action on every object.
	for _, object := range []string{
		ObjectTenant, ObjectLicenseTier, ObjectUser, ObjectLicense, ObjectPool,
		ObjectCredits, ObjectLimits, ObjectTransaction, ObjectSubscription, ObjectExecution,
		ObjectPricing,
	} {
		policies = append(policies,
			[]string{roleSuperadmin, object, "*"},
			[]string{roleSystem, object, "*"},
		)
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
