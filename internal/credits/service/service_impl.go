package service

import (
	"context"
	"errors"
	"math"
	"strings"

	creditsdomain "github.com/smallbiznis/creditline/internal/credits/domain"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const estimateWindow = 10

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	UserRepo   userdomain.Repository
	TenantRepo tenantdomain.Repository
	LedgerRepo ledgerdomain.Repository
	LedgerSvc  ledgerdomain.Service
	TierSvc    licensetierdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	userRepo   userdomain.Repository
	tenantRepo tenantdomain.Repository
	ledgerRepo ledgerdomain.Repository
	ledgerSvc  ledgerdomain.Service
	tierSvc    licensetierdomain.Service
}

func NewService(p Params) creditsdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credits.service"),
		userRepo:   p.UserRepo,
		tenantRepo: p.TenantRepo,
		ledgerRepo: p.LedgerRepo,
		ledgerSvc:  p.LedgerSvc,
		tierSvc:    p.TierSvc,
	}
}

func (s *Service) CheckCanExecute(ctx context.Context, userID string, estimated int64) (*creditsdomain.CheckResult, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsPlatformSuperadmin {
		return &creditsdomain.CheckResult{CanExecute: true, IsSuperadmin: true}, nil
	}
	if !user.LicenseIsActive {
		return nil, creditsdomain.ErrNoActiveLicense
	}

	required := estimated
	if required < creditsdomain.MinCreditsToStart {
		required = creditsdomain.MinCreditsToStart
	}
	remaining := user.RemainingCredits()
	if remaining < required {
		return nil, &ledgerdomain.InsufficientCreditsError{
			UserID:    user.ID,
			Required:  required,
			Available: remaining,
		}
	}
	return &creditsdomain.CheckResult{
		CanExecute:       true,
		CreditsAllocated: user.CreditsAllocated,
		CreditsUsed:      user.CreditsUsed,
		CreditsRemaining: remaining,
		CreditsRequired:  required,
		LicenseTierID:    user.LicenseTierID,
	}, nil
}

// EstimateCreditsForFlow averages the flow's most recent deductions. Flows
// without history, and lookup failures, estimate the minimum.
func (s *Service) EstimateCreditsForFlow(ctx context.Context, flowID string) (int64, error) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return 0, creditsdomain.ErrInvalidFlowID
	}
	amounts, err := s.ledgerRepo.RecentDeductionAmounts(ctx, s.db, flowID, estimateWindow)
	if err != nil {
		s.log.Warn("credit estimate fell back to minimum", zap.String("flow_id", flowID), zap.Error(err))
		return creditsdomain.MinCreditsToStart, nil
	}
	if len(amounts) == 0 {
		return creditsdomain.MinCreditsToStart, nil
	}
	var total int64
	for _, amount := range amounts {
		total += amount
	}
	avg := total / int64(len(amounts))
	if avg < creditsdomain.MinCreditsToStart {
		avg = creditsdomain.MinCreditsToStart
	}
	return avg, nil
}

func (s *Service) GetUserCreditStatus(ctx context.Context, userID string) (*creditsdomain.CreditStatus, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	remaining := user.RemainingCredits()
	status := &creditsdomain.CreditStatus{
		UserID:           user.ID,
		CreditsAllocated: user.CreditsAllocated,
		CreditsUsed:      user.CreditsUsed,
		CreditsRemaining: remaining,
		CreditsPerMonth:  user.CreditsPerMonth,
		LicenseIsActive:  user.LicenseIsActive,
		CanExecute:       user.LicenseIsActive && remaining > 0,
		IsOutOfCredits:   remaining <= 0,
	}
	if user.CreditsAllocated > 0 {
		percent := float64(user.CreditsUsed) / float64(user.CreditsAllocated) * 100
		status.UsagePercent = math.Round(percent*10) / 10
		status.IsLowCredits = float64(remaining) < float64(user.CreditsAllocated)*creditsdomain.LowCreditsRatio
	}

	if user.LicenseTierID != nil {
		tier, err := s.tierSvc.Get(ctx, *user.LicenseTierID)
		switch {
		case err == nil:
			status.LicenseTier = &creditsdomain.TierInfo{
				ID:             tier.ID,
				Name:           tier.Name,
				CreditsPerUSD:  tier.CreditsPerUSD.InexactFloat64(),
				DefaultCredits: tier.DefaultCredits,
			}
		case errors.Is(err, licensetierdomain.ErrTierNotFound):
		default:
			return nil, err
		}
	}
	return status, nil
}

func (s *Service) GetTenantCreditSummary(ctx context.Context, tenantID string) (*creditsdomain.TenantCreditSummary, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, creditsdomain.ErrInvalidTenantID
	}
	tenant, err := s.tenantRepo.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	users, err := s.userRepo.ListByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	summary := &creditsdomain.TenantCreditSummary{TenantID: tenantID, TotalUsers: int64(len(users))}
	for _, user := range users {
		if !user.HasActiveLicense() {
			continue
		}
		summary.LicensedUsers++
		summary.CreditsAllocated += user.CreditsAllocated
		summary.CreditsUsed += user.CreditsUsed
	}
	summary.CreditsRemaining = summary.CreditsAllocated - summary.CreditsUsed
	return summary, nil
}

func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Transaction, error) {
	return s.ledgerSvc.Refund(ctx, req)
}

func (s *Service) loadUser(ctx context.Context, userID string) (*userdomain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, creditsdomain.ErrInvalidUserID
	}
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	return user, nil
}
