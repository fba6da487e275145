package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	limitsdomain "github.com/smallbiznis/creditline/internal/limits/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       limitsdomain.Repository
	UserRepo   userdomain.Repository
	TierRepo   licensetierdomain.Repository
	LedgerRepo ledgerdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       limitsdomain.Repository
	userRepo   userdomain.Repository
	tierRepo   licensetierdomain.Repository
	ledgerRepo ledgerdomain.Repository
}

func NewService(p Params) limitsdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("limits.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		userRepo:   p.UserRepo,
		tierRepo:   p.TierRepo,
		ledgerRepo: p.LedgerRepo,
	}
}

func (s *Service) CheckCanCreateFlow(ctx context.Context, userID string) (*limitsdomain.CheckResult, error) {
	user, tier, err := s.loadUserTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsPlatformSuperadmin {
		return &limitsdomain.CheckResult{Allowed: true, IsSuperadmin: true, Unlimited: true}, nil
	}
	if tier == nil || tier.MaxFlows == nil {
		return &limitsdomain.CheckResult{Allowed: true, Unlimited: true}, nil
	}

	count, err := s.repo.CountFlowsByUser(ctx, s.db, user.ID)
	if err != nil {
		return nil, err
	}
	if count >= *tier.MaxFlows {
		s.log.Info("flow limit reached",
			zap.String("user_id", user.ID),
			zap.Int64("current", count),
			zap.Int64("limit", *tier.MaxFlows),
		)
		return nil, &limitsdomain.LimitError{
			Kind:    limitsdomain.LimitKindFlows,
			UserID:  user.ID,
			Current: count,
			Limit:   *tier.MaxFlows,
			Err:     limitsdomain.ErrFlowLimitExceeded,
		}
	}
	remaining := *tier.MaxFlows - count
	return &limitsdomain.CheckResult{
		Allowed:      true,
		CurrentCount: count,
		MaxAllowed:   tier.MaxFlows,
		Remaining:    &remaining,
		TierName:     tier.Name,
	}, nil
}

func (s *Service) CheckAPICallLimit(ctx context.Context, userID string) (*limitsdomain.CheckResult, error) {
	user, tier, err := s.loadUserTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsPlatformSuperadmin {
		return &limitsdomain.CheckResult{Allowed: true, IsSuperadmin: true, Unlimited: true}, nil
	}
	if tier == nil || tier.MaxAPICalls == nil {
		return &limitsdomain.CheckResult{Allowed: true, Unlimited: true}, nil
	}

	periodStart := startOfMonth(s.clock.Now())
	count, err := s.ledgerRepo.CountDeductionsSince(ctx, s.db, user.ID, periodStart)
	if err != nil {
		return nil, err
	}
	if count >= *tier.MaxAPICalls {
		s.log.Info("api call limit reached",
			zap.String("user_id", user.ID),
			zap.Int64("current", count),
			zap.Int64("limit", *tier.MaxAPICalls),
		)
		return nil, &limitsdomain.LimitError{
			Kind:    limitsdomain.LimitKindAPICalls,
			UserID:  user.ID,
			Current: count,
			Limit:   *tier.MaxAPICalls,
			Err:     limitsdomain.ErrAPICallLimitExceeded,
		}
	}
	remaining := *tier.MaxAPICalls - count
	return &limitsdomain.CheckResult{
		Allowed:      true,
		CurrentCount: count,
		MaxAllowed:   tier.MaxAPICalls,
		Remaining:    &remaining,
		TierName:     tier.Name,
		PeriodStart:  &periodStart,
	}, nil
}

func (s *Service) GetUserLimitsStatus(ctx context.Context, userID string) (*limitsdomain.Status, error) {
	user, tier, err := s.loadUserTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &limitsdomain.Status{UserID: user.ID, IsSuperadmin: user.IsPlatformSuperadmin}
	if user.IsPlatformSuperadmin {
		return status, nil
	}

	flows, err := s.repo.CountFlowsByUser(ctx, s.db, user.ID)
	if err != nil {
		return nil, err
	}
	periodStart := startOfMonth(s.clock.Now())
	calls, err := s.ledgerRepo.CountDeductionsSince(ctx, s.db, user.ID, periodStart)
	if err != nil {
		return nil, err
	}

	var maxFlows, maxCalls *int64
	if tier != nil {
		maxFlows = tier.MaxFlows
		maxCalls = tier.MaxAPICalls
		status.Tier = &limitsdomain.TierRef{ID: tier.ID, Name: tier.Name}
	}
	status.Flows = usageOf(flows, maxFlows)
	status.APICalls = usageOf(calls, maxCalls)
	status.APICalls.PeriodStart = &periodStart
	return status, nil
}

// loadUserTier returns a nil tier when the user has none or it was deleted.
func (s *Service) loadUserTier(ctx context.Context, userID string) (*userdomain.User, *licensetierdomain.LicenseTier, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, limitsdomain.ErrInvalidUserID
	}
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, userdomain.ErrUserNotFound
	}
	if user.IsPlatformSuperadmin || user.LicenseTierID == nil || *user.LicenseTierID == "" {
		return user, nil, nil
	}
	tier, err := s.tierRepo.FindByID(ctx, s.db, *user.LicenseTierID)
	if err != nil {
		return nil, nil, err
	}
	return user, tier, nil
}

func usageOf(current int64, max *int64) *limitsdomain.Usage {
	usage := &limitsdomain.Usage{Current: current, Max: max, Unlimited: max == nil}
	if max != nil && *max > 0 {
		remaining := *max - current
		usage.Remaining = &remaining
		usage.PercentUsed = math.Round(float64(current)/float64(*max)*1000) / 10
	}
	return usage
}

func startOfMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
