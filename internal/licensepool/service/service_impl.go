package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       licensepooldomain.Repository
	TenantRepo tenantdomain.Repository
	TierRepo   licensetierdomain.Repository
	UserRepo   userdomain.Repository
	LedgerRepo ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       licensepooldomain.Repository
	tenantRepo tenantdomain.Repository
	tierRepo   licensetierdomain.Repository
	userRepo   userdomain.Repository
	ledgerRepo ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) licensepooldomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("licensepool.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		tierRepo:   p.TierRepo,
		userRepo:   p.UserRepo,
		ledgerRepo: p.LedgerRepo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateOrUpdatePool(ctx context.Context, req licensepooldomain.CreateOrUpdatePoolRequest) (*licensepooldomain.LicensePool, error) {
	var pool *licensepooldomain.LicensePool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pool, err = s.CreateOrUpdatePoolTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *Service) CreateOrUpdatePoolTx(ctx context.Context, tx *gorm.DB, req licensepooldomain.CreateOrUpdatePoolRequest) (*licensepooldomain.LicensePool, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, licensepooldomain.ErrInvalidTenantID
	}
	tierID := strings.TrimSpace(req.TierID)
	if tierID == "" {
		return nil, licensepooldomain.ErrInvalidTierID
	}
	if req.TotalCount < 0 {
		return nil, licensepooldomain.ErrInvalidTotalCount
	}

	tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	tier, err := s.tierRepo.FindByID(ctx, tx, tierID)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, licensetierdomain.ErrTierNotFound
	}

	now := s.clock.Now()
	pool, err := s.repo.FindByTenantTierForUpdate(ctx, tx, tenantID, tierID)
	if err != nil {
		return nil, err
	}
	operation := "update"
	if pool == nil {
		operation = "create"
		pool = &licensepooldomain.LicensePool{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			TierID:         tierID,
			TotalCount:     req.TotalCount,
			AvailableCount: req.TotalCount,
			AssignedCount:  0,
			CreatedBy:      optionalString(req.CreatedBy),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, pool); err != nil {
			return nil, err
		}
	} else {
		if req.TotalCount < pool.AssignedCount {
			return nil, &licensepooldomain.PoolError{
				Op:        "resize",
				TenantID:  tenantID,
				TierID:    tierID,
				Available: pool.AvailableCount,
				Assigned:  pool.AssignedCount,
				Requested: req.TotalCount,
				Err:       licensepooldomain.ErrPoolReductionBelowAssigned,
			}
		}
		available := req.TotalCount - pool.AssignedCount
		if err := s.repo.SetTotal(ctx, tx, pool.ID, req.TotalCount, available, now); err != nil {
			return nil, err
		}
		pool.TotalCount = req.TotalCount
		pool.AvailableCount = available
		pool.Version++
		pool.UpdatedAt = now
	}

	if err := s.syncTenantMirror(ctx, tx, tenantID, now); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPoolMutation(ctx, operation)
	s.log.Info("license pool saved",
		zap.String("tenant_id", tenantID),
		zap.String("tier_id", tierID),
		zap.Int64("total_count", pool.TotalCount),
		zap.Int64("available_count", pool.AvailableCount),
		zap.Int64("assigned_count", pool.AssignedCount),
	)
	return pool, nil
}

func (s *Service) Assign(ctx context.Context, req licensepooldomain.AssignRequest) (*userdomain.User, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, licensepooldomain.ErrInvalidUserID
	}
	tierID := strings.TrimSpace(req.TierID)
	if tierID == "" {
		return nil, licensepooldomain.ErrInvalidTierID
	}

	var updated *userdomain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		if user.HasActiveLicense() {
			return licensepooldomain.ErrAlreadyLicensed
		}
		tenant, err := s.tenantRepo.FindByID(ctx, tx, user.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		tier, err := s.tierRepo.FindByID(ctx, tx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return licensetierdomain.ErrTierNotFound
		}

		now := s.clock.Now()
		if err := s.consume(ctx, tx, "assign", user.TenantID, tierID, now); err != nil {
			return err
		}

		state := userdomain.LicenseState{
			LicenseTierID:     &tier.ID,
			LicensePoolID:     &tier.ID,
			CreditsAllocated:  tier.DefaultCredits,
			CreditsUsed:       0,
			CreditsPerMonth:   tier.DefaultCreditsPerMonth,
			LicenseIsActive:   true,
			LicenseAssignedAt: &now,
			LicenseAssignedBy: optionalString(req.AssignedBy),
		}
		if err := s.userRepo.UpdateLicense(ctx, tx, user.ID, state, now); err != nil {
			return err
		}
		if err := s.syncTenantMirror(ctx, tx, user.TenantID, now); err != nil {
			return err
		}
		applyLicenseState(user, state, now)
		updated = user
		return nil
	})
	if err != nil {
		s.logRefusal("assign", userID, tierID, err)
		return nil, err
	}

	s.obsMetrics.RecordPoolMutation(ctx, "assign")
	s.log.Info("license assigned",
		zap.String("user_id", updated.ID),
		zap.String("tenant_id", updated.TenantID),
		zap.String("tier_id", tierID),
		zap.Int64("credits_allocated", updated.CreditsAllocated),
	)
	return updated, nil
}

func (s *Service) Unassign(ctx context.Context, userID string) (*userdomain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, licensepooldomain.ErrInvalidUserID
	}

	var updated *userdomain.User
	var tierID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		if !user.HasActiveLicense() || user.LicenseTierID == nil {
			return licensepooldomain.ErrNoActiveLicense
		}
		tierID = *user.LicenseTierID

		now := s.clock.Now()
		released, err := s.repo.Release(ctx, tx, user.TenantID, tierID, now)
		if err != nil {
			return err
		}
		if !released {
			s.log.Warn("license pool had no assigned slot to release",
				zap.String("tenant_id", user.TenantID),
				zap.String("tier_id", tierID),
			)
		}

		state := userdomain.LicenseState{}
		if err := s.userRepo.UpdateLicense(ctx, tx, user.ID, state, now); err != nil {
			return err
		}
		if err := s.syncTenantMirror(ctx, tx, user.TenantID, now); err != nil {
			return err
		}
		applyLicenseState(user, state, now)
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPoolMutation(ctx, "unassign")
	s.log.Info("license unassigned",
		zap.String("user_id", updated.ID),
		zap.String("tenant_id", updated.TenantID),
		zap.String("tier_id", tierID),
	)
	return updated, nil
}

func (s *Service) Upgrade(ctx context.Context, req licensepooldomain.UpgradeRequest) (*userdomain.User, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, licensepooldomain.ErrInvalidUserID
	}
	newTierID := strings.TrimSpace(req.NewTierID)
	if newTierID == "" {
		return nil, licensepooldomain.ErrInvalidTierID
	}

	var updated *userdomain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		if !user.HasActiveLicense() || user.LicenseTierID == nil {
			return licensepooldomain.ErrNoActiveLicense
		}
		fromTierID := *user.LicenseTierID

		newTier, err := s.tierRepo.FindByID(ctx, tx, newTierID)
		if err != nil {
			return err
		}
		if newTier == nil {
			return licensetierdomain.ErrTierNotFound
		}

		now := s.clock.Now()
		if _, err := s.repo.Release(ctx, tx, user.TenantID, fromTierID, now); err != nil {
			return err
		}
		if err := s.consume(ctx, tx, "upgrade", user.TenantID, newTierID, now); err != nil {
			return err
		}

		previousAllocated := user.CreditsAllocated
		previousUsed := user.CreditsUsed
		before := user.RemainingCredits()
		allocated := newTier.DefaultCredits
		if req.PreserveCredits {
			allocated = before + newTier.DefaultCredits
		}

		state := userdomain.LicenseState{
			LicenseTierID:     &newTier.ID,
			LicensePoolID:     &newTier.ID,
			CreditsAllocated:  allocated,
			CreditsUsed:       0,
			CreditsPerMonth:   newTier.DefaultCreditsPerMonth,
			LicenseIsActive:   true,
			LicenseAssignedAt: user.LicenseAssignedAt,
			LicenseAssignedBy: user.LicenseAssignedBy,
			LicenseExpiresAt:  user.LicenseExpiresAt,
		}
		if err := s.userRepo.UpdateLicense(ctx, tx, user.ID, state, now); err != nil {
			return err
		}

		txn := &ledgerdomain.Transaction{
			ID:              uuid.NewString(),
			UserID:          user.ID,
			TenantID:        user.TenantID,
			TransactionType: ledgerdomain.TransactionTypeUpgrade,
			CreditsAmount:   allocated,
			CreditsBefore:   before,
			CreditsAfter:    allocated,
			TransactionMetadata: datatypes.JSONMap{
				"source":             ledgerdomain.SourceLicenseUpgrade,
				"from_tier_id":       fromTierID,
				"to_tier_id":         newTier.ID,
				"preserve_credits":   req.PreserveCredits,
				"previous_allocated": previousAllocated,
				"previous_used":      previousUsed,
			},
			CreatedBy: optionalString(req.UpgradedBy),
			Timestamp: now,
		}
		if err := s.ledgerRepo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		if err := s.syncTenantMirror(ctx, tx, user.TenantID, now); err != nil {
			return err
		}
		applyLicenseState(user, state, now)
		updated = user
		return nil
	})
	if err != nil {
		s.logRefusal("upgrade", userID, newTierID, err)
		return nil, err
	}

	s.obsMetrics.RecordPoolMutation(ctx, "upgrade")
	s.obsMetrics.RecordLedgerTransaction(ctx, string(ledgerdomain.TransactionTypeUpgrade), ledgerdomain.SourceLicenseUpgrade, updated.CreditsAllocated)
	s.log.Info("license upgraded",
		zap.String("user_id", updated.ID),
		zap.String("tenant_id", updated.TenantID),
		zap.String("tier_id", newTierID),
		zap.Bool("preserve_credits", req.PreserveCredits),
		zap.Int64("credits_allocated", updated.CreditsAllocated),
	)
	return updated, nil
}

func (s *Service) GetTenantPools(ctx context.Context, tenantID string) ([]licensepooldomain.LicensePool, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, licensepooldomain.ErrInvalidTenantID
	}
	tenant, err := s.tenantRepo.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}

func (s *Service) consume(ctx context.Context, tx *gorm.DB, op, tenantID, tierID string, now time.Time) error {
	ok, err := s.repo.Consume(ctx, tx, tenantID, tierID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	pool, err := s.repo.FindByTenantTier(ctx, tx, tenantID, tierID)
	if err != nil {
		return err
	}
	poolErr := &licensepooldomain.PoolError{
		Op:        op,
		TenantID:  tenantID,
		TierID:    tierID,
		Requested: 1,
		Err:       licensepooldomain.ErrPoolNotFound,
	}
	if pool != nil {
		poolErr.Err = licensepooldomain.ErrPoolExhausted
		poolErr.Available = pool.AvailableCount
		poolErr.Assigned = pool.AssignedCount
	}
	return poolErr
}

// syncTenantMirror rewrites tenants.license_pools from the pool rows.
func (s *Service) syncTenantMirror(ctx context.Context, tx *gorm.DB, tenantID string, now time.Time) error {
	pools, err := s.repo.ListByTenant(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	mirror := datatypes.JSONMap{}
	for _, pool := range pools {
		entry := map[string]any{
			"total_count":     pool.TotalCount,
			"available_count": pool.AvailableCount,
			"assigned_count":  pool.AssignedCount,
			"created_at":      pool.CreatedAt.UTC(),
			"updated_at":      pool.UpdatedAt.UTC(),
		}
		if pool.CreatedBy != nil {
			entry["created_by"] = *pool.CreatedBy
		}
		mirror[pool.TierID] = entry
	}
	return s.tenantRepo.UpdateLicensePools(ctx, tx, tenantID, mirror, now)
}

func (s *Service) logRefusal(op, userID, tierID string, err error) {
	var poolErr *licensepooldomain.PoolError
	if !errors.As(err, &poolErr) {
		return
	}
	s.log.Warn("license pool refused",
		zap.String("operation", op),
		zap.String("user_id", userID),
		zap.String("tier_id", tierID),
		zap.Int64("available_count", poolErr.Available),
		zap.Int64("assigned_count", poolErr.Assigned),
		zap.Error(poolErr.Err),
	)
}

func applyLicenseState(user *userdomain.User, state userdomain.LicenseState, now time.Time) {
	user.LicenseTierID = state.LicenseTierID
	user.LicensePoolID = state.LicensePoolID
	user.CreditsAllocated = state.CreditsAllocated
	user.CreditsUsed = state.CreditsUsed
	user.CreditsPerMonth = state.CreditsPerMonth
	user.LicenseIsActive = state.LicenseIsActive
	user.LicenseAssignedAt = state.LicenseAssignedAt
	user.LicenseAssignedBy = state.LicenseAssignedBy
	user.LicenseExpiresAt = state.LicenseExpiresAt
	user.UpdatedAt = now
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
