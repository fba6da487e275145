package service

import (
	"context"

	"github.com/shopspring/decimal"
	tierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	"go.uber.org/zap"
)

// DefaultTiers are the templates offered to new tenants. ENTERPRISE carries no limits.
func DefaultTiers() []tierdomain.CreateRequest {
	return []tierdomain.CreateRequest{
		{
			Name:                   "BASIC",
			Description:            "Small teams getting started with automated flows",
			DefaultCredits:         1000,
			DefaultCreditsPerMonth: int64Ptr(1000),
			CreditsPerUSD:          decimalPtr(decimal.NewFromInt(100)),
			PricingMultiplier:      decimalPtr(decimal.NewFromInt(1)),
			MonthlyPrice:           decimal.NewFromInt(29),
			MaxUsers:               int64Ptr(5),
			MaxFlows:               int64Ptr(20),
			MaxAPICalls:            int64Ptr(1000),
		},
		{
			Name:                   "PRO",
			Description:            "Growing teams running production workloads",
			DefaultCredits:         10000,
			DefaultCreditsPerMonth: int64Ptr(10000),
			CreditsPerUSD:          decimalPtr(decimal.NewFromInt(100)),
			PricingMultiplier:      decimalPtr(decimal.NewFromInt(1)),
			MonthlyPrice:           decimal.NewFromInt(99),
			MaxUsers:               int64Ptr(25),
			MaxFlows:               int64Ptr(100),
			MaxAPICalls:            int64Ptr(10000),
		},
		{
			Name:                   "ENTERPRISE",
			Description:            "Unlimited users, flows and API calls",
			DefaultCredits:         100000,
			DefaultCreditsPerMonth: int64Ptr(100000),
			CreditsPerUSD:          decimalPtr(decimal.NewFromInt(100)),
			PricingMultiplier:      decimalPtr(decimal.NewFromInt(1)),
			MonthlyPrice:           decimal.NewFromInt(499),
		},
	}
}

func (s *Service) EnsureDefaults(ctx context.Context) error {
	for _, req := range DefaultTiers() {
		existing, err := s.repo.FindByName(ctx, s.db, req.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		req.CreatedBy = "system"
		if _, err := s.Create(ctx, req); err != nil {
			return err
		}
	}
	s.log.Debug("default license tiers ensured", zap.Int("count", len(DefaultTiers())))
	return nil
}
