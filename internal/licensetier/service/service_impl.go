package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/cache"
	"github.com/smallbiznis/creditline/internal/clock"
	tierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      tierdomain.Repository
	TierCache cache.TierCache `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      tierdomain.Repository
	tierCache cache.TierCache
}

func NewService(p Params) tierdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("licensetier.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		tierCache: p.TierCache,
	}
}

func (s *Service) Create(ctx context.Context, req tierdomain.CreateRequest) (*tierdomain.LicenseTier, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tierdomain.ErrInvalidTierName
	}
	if req.DefaultCredits < 0 {
		return nil, tierdomain.ErrInvalidDefaultCredits
	}
	if req.DefaultCreditsPerMonth != nil && *req.DefaultCreditsPerMonth < 0 {
		return nil, tierdomain.ErrInvalidDefaultCredits
	}
	if err := validateLimits(req.MaxUsers, req.MaxFlows, req.MaxAPICalls); err != nil {
		return nil, err
	}
	if req.MonthlyPrice.IsNegative() {
		return nil, tierdomain.ErrInvalidPrice
	}

	creditsPerUSD := tierdomain.DefaultCreditsPerUSD
	if req.CreditsPerUSD != nil {
		if !req.CreditsPerUSD.IsPositive() {
			return nil, tierdomain.ErrInvalidCreditsPerUSD
		}
		creditsPerUSD = *req.CreditsPerUSD
	}
	multiplier := tierdomain.DefaultPricingMultiplier
	if req.PricingMultiplier != nil {
		if !req.PricingMultiplier.IsPositive() {
			return nil, tierdomain.ErrInvalidMultiplier
		}
		multiplier = *req.PricingMultiplier
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := s.clock.Now()
	tier := &tierdomain.LicenseTier{
		ID:                     uuid.NewString(),
		Name:                   name,
		Description:            strings.TrimSpace(req.Description),
		DefaultCredits:         req.DefaultCredits,
		DefaultCreditsPerMonth: req.DefaultCreditsPerMonth,
		CreditsPerUSD:          creditsPerUSD,
		PricingMultiplier:      multiplier,
		MonthlyPrice:           req.MonthlyPrice.Round(2),
		MaxUsers:               req.MaxUsers,
		MaxFlows:               req.MaxFlows,
		MaxAPICalls:            req.MaxAPICalls,
		Features:               datatypes.JSONMap(req.Features),
		IsActive:               isActive,
		CreatedBy:              optionalString(req.CreatedBy),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	existing, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, tierdomain.ErrTierNameTaken
	}

	if err := s.repo.Insert(ctx, s.db, tier); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, tierdomain.ErrTierNameTaken
		}
		return nil, err
	}

	s.log.Info("license tier created",
		zap.String("tier_id", tier.ID),
		zap.String("tier_name", tier.Name),
		zap.Int64("default_credits", tier.DefaultCredits),
	)
	return tier, nil
}

func (s *Service) Get(ctx context.Context, id string) (*tierdomain.LicenseTier, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, tierdomain.ErrInvalidTierID
	}
	if s.tierCache != nil {
		if tier, ok := s.tierCache.GetTier(id); ok {
			return &tier, nil
		}
	}

	tier, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, tierdomain.ErrTierNotFound
	}
	if s.tierCache != nil {
		s.tierCache.SetTier(*tier)
	}
	return tier, nil
}

func (s *Service) GetByName(ctx context.Context, name string) (*tierdomain.LicenseTier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, tierdomain.ErrInvalidTierName
	}
	tier, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, tierdomain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) List(ctx context.Context, req tierdomain.ListRequest) ([]tierdomain.LicenseTier, error) {
	return s.repo.List(ctx, s.db, req.ActiveOnly)
}

func (s *Service) Update(ctx context.Context, id string, req tierdomain.UpdateRequest) (*tierdomain.LicenseTier, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, tierdomain.ErrInvalidTierID
	}

	var updated *tierdomain.LicenseTier
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tier, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if tier == nil {
			return tierdomain.ErrTierNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return tierdomain.ErrInvalidTierName
			}
			if name != tier.Name {
				other, err := s.repo.FindByName(ctx, tx, name)
				if err != nil {
					return err
				}
				if other != nil {
					return tierdomain.ErrTierNameTaken
				}
			}
			tier.Name = name
		}
		if req.Description != nil {
			tier.Description = strings.TrimSpace(*req.Description)
		}
		if req.DefaultCredits != nil {
			if *req.DefaultCredits < 0 {
				return tierdomain.ErrInvalidDefaultCredits
			}
			tier.DefaultCredits = *req.DefaultCredits
		}
		if req.DefaultCreditsPerMonth != nil {
			if *req.DefaultCreditsPerMonth < 0 {
				return tierdomain.ErrInvalidDefaultCredits
			}
			tier.DefaultCreditsPerMonth = req.DefaultCreditsPerMonth
		}
		if req.CreditsPerUSD != nil {
			if !req.CreditsPerUSD.IsPositive() {
				return tierdomain.ErrInvalidCreditsPerUSD
			}
			tier.CreditsPerUSD = *req.CreditsPerUSD
		}
		if req.PricingMultiplier != nil {
			if !req.PricingMultiplier.IsPositive() {
				return tierdomain.ErrInvalidMultiplier
			}
			tier.PricingMultiplier = *req.PricingMultiplier
		}
		if req.MonthlyPrice != nil {
			if req.MonthlyPrice.IsNegative() {
				return tierdomain.ErrInvalidPrice
			}
			tier.MonthlyPrice = req.MonthlyPrice.Round(2)
		}
		if err := validateLimits(req.MaxUsers, req.MaxFlows, req.MaxAPICalls); err != nil {
			return err
		}
		if req.MaxUsers != nil {
			tier.MaxUsers = req.MaxUsers
		}
		if req.MaxFlows != nil {
			tier.MaxFlows = req.MaxFlows
		}
		if req.MaxAPICalls != nil {
			tier.MaxAPICalls = req.MaxAPICalls
		}
		if req.Features != nil {
			tier.Features = datatypes.JSONMap(req.Features)
		}
		if req.IsActive != nil {
			tier.IsActive = *req.IsActive
		}
		tier.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, tier); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return tierdomain.ErrTierNameTaken
			}
			return err
		}
		updated = tier
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.tierCache != nil {
		s.tierCache.InvalidateTier(id)
	}
	s.log.Info("license tier updated", zap.String("tier_id", id))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return tierdomain.ErrInvalidTierID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tier, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if tier == nil {
			return tierdomain.ErrTierNotFound
		}
		refs, err := s.repo.CountReferences(ctx, tx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return tierdomain.ErrTierInUse
		}
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	if s.tierCache != nil {
		s.tierCache.InvalidateTier(id)
	}
	s.log.Info("license tier deleted", zap.String("tier_id", id))
	return nil
}

func validateLimits(limits ...*int64) error {
	for _, limit := range limits {
		if limit != nil && *limit < 0 {
			return tierdomain.ErrInvalidLimit
		}
	}
	return nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func decimalPtr(value decimal.Decimal) *decimal.Decimal {
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
