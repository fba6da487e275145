package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
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
	Repo       subscriptiondomain.Repository
	TenantRepo tenantdomain.Repository
	TierRepo   licensetierdomain.Repository
	UserRepo   userdomain.Repository
	PoolSvc    licensepooldomain.Service
	LedgerSvc  ledgerdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	tenantRepo tenantdomain.Repository
	tierRepo   licensetierdomain.Repository
	userRepo   userdomain.Repository
	poolSvc    licensepooldomain.Service
	ledgerSvc  ledgerdomain.Service
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		tierRepo:   p.TierRepo,
		userRepo:   p.UserRepo,
		poolSvc:    p.PoolSvc,
		ledgerSvc:  p.LedgerSvc,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenantID
	}
	tierID := strings.TrimSpace(req.TierID)
	if tierID == "" {
		return nil, subscriptiondomain.ErrInvalidTierID
	}
	if req.LicenseCount < 0 {
		return nil, subscriptiondomain.ErrInvalidLicenseCount
	}
	if req.Amount.IsNegative() {
		return nil, subscriptiondomain.ErrInvalidAmount
	}

	var created *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, tenantID)
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
		existing, err := s.repo.FindActiveByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrActiveSubscriptionExists
		}

		now := s.clock.Now()
		renewal := now.Add(subscriptiondomain.BillingPeriod)
		amount := req.Amount.Round(2)
		subscription := &subscriptiondomain.Subscription{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			TierID:          tier.ID,
			LicenseCount:    req.LicenseCount,
			Amount:          amount,
			Currency:        subscriptiondomain.DefaultCurrency,
			BillingCycle:    subscriptiondomain.DefaultBillingCycle,
			Status:          subscriptiondomain.SubscriptionStatusActive,
			StartDate:       now,
			RenewalDate:     renewal,
			NextPaymentDate: &renewal,
			PaymentMethodID: optionalString(req.PaymentMethodID),
			MonthlyCredits:  valueOrZero(tier.DefaultCreditsPerMonth),
			CreatedBy:       optionalString(req.CreatedBy),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.Insert(ctx, tx, subscription); err != nil {
			return err
		}
		if err := s.tenantRepo.ApplySubscription(ctx, tx, tenantID, tier.ID, tenantdomain.TenantStatusActive, &renewal, amount, now); err != nil {
			return err
		}
		if _, err := s.poolSvc.CreateOrUpdatePoolTx(ctx, tx, licensepooldomain.CreateOrUpdatePoolRequest{
			TenantID:   tenantID,
			TierID:     tier.ID,
			TotalCount: req.LicenseCount,
			CreatedBy:  req.CreatedBy,
		}); err != nil {
			return err
		}

		licenseCount := req.LicenseCount
		if err := s.repo.InsertHistory(ctx, tx, &subscriptiondomain.SubscriptionHistory{
			ID:             uuid.NewString(),
			SubscriptionID: subscription.ID,
			TenantID:       tenantID,
			Action:         subscriptiondomain.HistoryActionCreated,
			ToTierID:       &subscription.TierID,
			ToAmount:       &amount,
			ToLicenseCount: &licenseCount,
			PerformedBy:    optionalString(req.CreatedBy),
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		created = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", created.ID),
		zap.String("tenant_id", created.TenantID),
		zap.String("tier_id", created.TierID),
		zap.Int64("license_count", created.LicenseCount),
		zap.String("amount", created.Amount.StringFixed(2)),
	)
	return created, nil
}

// Renew extends the paid period by one cycle and tops up every licensed
// user of the tenant that carries a monthly grant.
func (s *Service) Renew(ctx context.Context, subscriptionID string) (*subscriptiondomain.RenewResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}

	result := &subscriptiondomain.RenewResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}

		now := s.clock.Now()
		previous := subscription.RenewalDate
		renewal := now.Add(subscriptiondomain.BillingPeriod)
		if !previous.IsZero() {
			renewal = previous.Add(subscriptiondomain.BillingPeriod)
		}
		subscription.RenewalDate = renewal
		subscription.NextPaymentDate = &renewal
		subscription.LastPaymentDate = &now
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, subscription.TenantID)
		if err != nil {
			return err
		}
		if tenant != nil {
			if err := s.tenantRepo.ApplySubscription(ctx, tx, tenant.ID, subscription.TierID, tenant.Status, &renewal, subscription.Amount, now); err != nil {
				return err
			}

			users, err := s.userRepo.ListRenewable(ctx, tx, tenant.ID)
			if err != nil {
				return err
			}
			for _, user := range users {
				credits := valueOrZero(user.CreditsPerMonth)
				if credits <= 0 {
					continue
				}
				if _, err := s.ledgerSvc.AddTx(ctx, tx, ledgerdomain.AddRequest{
					UserID:  user.ID,
					Credits: credits,
					Source:  ledgerdomain.SourceSubscriptionRenewal,
					Metadata: map[string]any{
						"subscription_id": subscription.ID,
					},
				}); err != nil {
					return err
				}
				result.UsersToppedUp++
				result.CreditsAdded += credits
			}
		}

		if err := s.repo.InsertHistory(ctx, tx, &subscriptiondomain.SubscriptionHistory{
			ID:             uuid.NewString(),
			SubscriptionID: subscription.ID,
			TenantID:       subscription.TenantID,
			Action:         subscriptiondomain.HistoryActionRenewed,
			Metadata: datatypes.JSONMap{
				"previous_renewal_date": previous.UTC().Format(time.RFC3339),
				"renewal_date":          renewal.UTC().Format(time.RFC3339),
				"users_topped_up":       result.UsersToppedUp,
				"credits_added":         result.CreditsAdded,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		result.Subscription = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription renewed",
		zap.String("subscription_id", result.Subscription.ID),
		zap.String("tenant_id", result.Subscription.TenantID),
		zap.Time("renewal_date", result.Subscription.RenewalDate),
		zap.Int("users_topped_up", result.UsersToppedUp),
		zap.Int64("credits_added", result.CreditsAdded),
	)
	return result, nil
}

// Cancel ends the subscription at its paid period. License slots and user
// balances are left untouched.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (*subscriptiondomain.Subscription, error) {
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}

	var cancelled *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}

		now := s.clock.Now()
		end := subscription.RenewalDate
		subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
		subscription.CancelledAt = &now
		subscription.EndDate = &end
		subscription.CancellationReason = optionalString(req.Reason)
		subscription.CancelledBy = optionalString(req.CancelledBy)
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, subscription.TenantID)
		if err != nil {
			return err
		}
		if tenant != nil {
			if err := s.tenantRepo.UpdateStatus(ctx, tx, tenant.ID, tenantdomain.TenantStatusCancelled, now); err != nil {
				return err
			}
		}

		if err := s.repo.InsertHistory(ctx, tx, &subscriptiondomain.SubscriptionHistory{
			ID:             uuid.NewString(),
			SubscriptionID: subscription.ID,
			TenantID:       subscription.TenantID,
			Action:         subscriptiondomain.HistoryActionCancelled,
			FromTierID:     &subscription.TierID,
			Reason:         optionalString(req.Reason),
			PerformedBy:    optionalString(req.CancelledBy),
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		cancelled = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription cancelled",
		zap.String("subscription_id", cancelled.ID),
		zap.String("tenant_id", cancelled.TenantID),
	)
	return cancelled, nil
}

func (s *Service) ChangeTier(ctx context.Context, req subscriptiondomain.ChangeTierRequest) (*subscriptiondomain.Subscription, error) {
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	newTierID := strings.TrimSpace(req.NewTierID)
	if newTierID == "" {
		return nil, subscriptiondomain.ErrInvalidTierID
	}
	if req.LicenseCount != nil && *req.LicenseCount < 0 {
		return nil, subscriptiondomain.ErrInvalidLicenseCount
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, subscriptiondomain.ErrInvalidAmount
	}

	var changed *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		tier, err := s.tierRepo.FindByID(ctx, tx, newTierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return licensetierdomain.ErrTierNotFound
		}

		fromTierID := subscription.TierID
		fromAmount := subscription.Amount
		fromCount := subscription.LicenseCount

		toCount := subscription.LicenseCount
		if req.LicenseCount != nil {
			toCount = *req.LicenseCount
		}
		toAmount := subscription.Amount
		if req.Amount != nil {
			toAmount = req.Amount.Round(2)
		}

		now := s.clock.Now()
		subscription.TierID = tier.ID
		subscription.LicenseCount = toCount
		subscription.Amount = toAmount
		subscription.MonthlyCredits = valueOrZero(tier.DefaultCreditsPerMonth)
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, subscription.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		renewal := subscription.RenewalDate
		if err := s.tenantRepo.ApplySubscription(ctx, tx, tenant.ID, tier.ID, tenant.Status, &renewal, toAmount, now); err != nil {
			return err
		}
		if _, err := s.poolSvc.CreateOrUpdatePoolTx(ctx, tx, licensepooldomain.CreateOrUpdatePoolRequest{
			TenantID:   subscription.TenantID,
			TierID:     tier.ID,
			TotalCount: toCount,
			CreatedBy:  req.ChangedBy,
		}); err != nil {
			return err
		}

		if err := s.repo.InsertHistory(ctx, tx, &subscriptiondomain.SubscriptionHistory{
			ID:               uuid.NewString(),
			SubscriptionID:   subscription.ID,
			TenantID:         subscription.TenantID,
			Action:           subscriptiondomain.HistoryActionUpgraded,
			FromTierID:       &fromTierID,
			ToTierID:         &subscription.TierID,
			FromAmount:       &fromAmount,
			ToAmount:         &toAmount,
			FromLicenseCount: &fromCount,
			ToLicenseCount:   &toCount,
			PerformedBy:      optionalString(req.ChangedBy),
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		changed = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription tier changed",
		zap.String("subscription_id", changed.ID),
		zap.String("tenant_id", changed.TenantID),
		zap.String("tier_id", changed.TierID),
		zap.Int64("license_count", changed.LicenseCount),
	)
	return changed, nil
}

func (s *Service) Get(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) GetActiveByTenant(ctx context.Context, tenantID string) (*subscriptiondomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, subscriptiondomain.ErrInvalidTenantID
	}
	subscription, err := s.repo.FindActiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) ListHistory(ctx context.Context, subscriptionID string) ([]subscriptiondomain.SubscriptionHistory, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	if _, err := s.Get(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, s.db, subscriptionID)
}

func (s *Service) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDueForRenewal(ctx, s.db, now, limit)
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
