package metering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/config"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"github.com/smallbiznis/creditline/internal/pricing"
	"github.com/smallbiznis/creditline/internal/ratelimit"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReasonDeducted      = "deducted"
	ReasonNoCost        = "no_cost_incurred"
	ReasonSuperadmin    = "superadmin"
	ReasonNoLicense     = "no_active_license"
	ReasonZeroCredits   = "zero_credits_calculated"
	finalizeLockPrefix  = "metering:finalize:"
	defaultFinalizeLock = 30 * time.Second
)

// FinalizeResult describes the billing decision for one execution.
type FinalizeResult struct {
	UsageRecordID   string          `json:"usage_record_id"`
	CreditsDeducted int64           `json:"credits_deducted"`
	CostUSD         decimal.Decimal `json:"cost_usd"`
	AdjustedCostUSD decimal.Decimal `json:"adjusted_cost_usd"`
	Tokens          int64           `json:"tokens"`
	Reason          string          `json:"reason"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	CreditsBefore   int64           `json:"credits_before,omitempty"`
	CreditsAfter    int64           `json:"credits_after,omitempty"`
	TierName        string          `json:"tier_name,omitempty"`
}

// Locker serializes finalize of one trace across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Engine     *pricing.Engine
	UserRepo   userdomain.Repository
	TierSvc    licensetierdomain.Service
	LedgerSvc  ledgerdomain.Service
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	engine     *pricing.Engine
	userRepo   userdomain.Repository
	tierSvc    licensetierdomain.Service
	ledgerSvc  ledgerdomain.Service
	locker     Locker
	lockTTL    time.Duration
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	svc := &Service{
		db:         p.DB,
		log:        p.Log.Named("metering.service"),
		clock:      p.Clock,
		engine:     p.Engine,
		userRepo:   p.UserRepo,
		tierSvc:    p.TierSvc,
		ledgerSvc:  p.LedgerSvc,
		lockTTL:    defaultFinalizeLock,
		obsMetrics: p.ObsMetrics,
	}
	if ttl := p.Config.Metering.FinalizeLockTTLSeconds; ttl > 0 {
		svc.lockTTL = time.Duration(ttl) * time.Second
	}
	if p.Locker != nil {
		svc.locker = p.Locker
	}
	return svc
}

// NewAccumulator starts an accumulator priced by the service's engine.
func (s *Service) NewAccumulator(exec ExecutionContext) *Accumulator {
	return NewAccumulator(exec, s.engine, s.log)
}

// RecordCall adds one call to acc and counts it.
func (s *Service) RecordCall(ctx context.Context, acc *Accumulator, resp ProviderResponse) (UsageRecord, error) {
	record, err := acc.RecordCall(resp)
	if err != nil {
		return record, err
	}
	provider := strings.TrimSpace(string(resp.Provider))
	if provider == "" {
		provider = "unknown"
	}
	s.obsMetrics.RecordUsageCaptured(ctx, provider)
	return record, nil
}

// FinalizeAndDeduct converts the accumulated usage into one ledger deduction.
// A settled accumulator is never charged again. A failed settlement keeps its
// usage so the caller can retry.
func (s *Service) FinalizeAndDeduct(ctx context.Context, acc *Accumulator) (*FinalizeResult, error) {
	if acc == nil {
		return nil, ErrInvalidExecution
	}

	if s.locker != nil {
		key := finalizeLockPrefix + acc.UsageRecordID()
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire finalize lock: %w", err)
		}
		if !ok {
			return nil, ErrFinalizeInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("finalize lock release failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	if err := acc.beginFinalize(); err != nil {
		return nil, err
	}

	result, err := s.finalize(ctx, acc)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicateUsageRecord) {
			acc.settle()
			s.obsMetrics.RecordFinalize(ctx, "duplicate")
			acc.log.Info("metering.finalize.skipped", zap.String("reason", "duplicate_usage_record"))
			return nil, ErrAlreadyFinalized
		}
		acc.fail()
		s.obsMetrics.RecordFinalize(ctx, "failed")
		acc.log.Warn("metering.finalize.failed", zap.Error(err))
		return nil, err
	}

	acc.settle()
	s.obsMetrics.RecordFinalize(ctx, result.Reason)
	if result.Reason != ReasonDeducted {
		acc.log.Info("metering.finalize.skipped",
			zap.String("reason", result.Reason),
			zap.String("cost_usd", result.CostUSD.String()),
			zap.Int64("tokens", result.Tokens),
		)
		return result, nil
	}
	acc.log.Info("metering.credits.deducted",
		zap.String("transaction_id", result.TransactionID),
		zap.Int64("credits", result.CreditsDeducted),
		zap.Int64("credits_before", result.CreditsBefore),
		zap.Int64("credits_after", result.CreditsAfter),
		zap.String("tier_name", result.TierName),
	)
	return result, nil
}

func (s *Service) finalize(ctx context.Context, acc *Accumulator) (*FinalizeResult, error) {
	usage := acc.Snapshot()
	exec := acc.Execution()
	result := &FinalizeResult{
		UsageRecordID:   acc.UsageRecordID(),
		CostUSD:         usage.CostUSD,
		AdjustedCostUSD: usage.CostUSD,
		Tokens:          usage.TotalTokens,
	}
	if !usage.CostUSD.IsPositive() {
		result.Reason = ReasonNoCost
		return result, nil
	}

	user, err := s.userRepo.FindByID(ctx, s.db, exec.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	if user.IsPlatformSuperadmin {
		result.Reason = ReasonSuperadmin
		return result, nil
	}
	if !user.HasActiveLicense() || user.LicenseTierID == nil {
		result.Reason = ReasonNoLicense
		return result, nil
	}

	tier, err := s.tierSvc.Get(ctx, *user.LicenseTierID)
	if err != nil {
		return nil, err
	}

	adjusted := usage.CostUSD.Mul(tier.EffectiveMultiplier())
	creditsPerUSD := tier.EffectiveCreditsPerUSD()
	credits := adjusted.Mul(creditsPerUSD).Truncate(0).IntPart()
	if credits == 0 && usage.TotalTokens > 0 {
		credits = 1
	}
	credits = s.engine.ClampCredits(credits, tier)
	result.AdjustedCostUSD = adjusted
	result.TierName = tier.Name
	acc.log.Info("metering.cost.computed",
		zap.String("cost_usd", usage.CostUSD.String()),
		zap.String("adjusted_cost_usd", adjusted.String()),
		zap.String("credits_per_usd", creditsPerUSD.String()),
		zap.Int64("credits", credits),
	)
	if credits <= 0 {
		result.Reason = ReasonZeroCredits
		return result, nil
	}

	txn, err := s.ledgerSvc.Deduct(ctx, ledgerdomain.DeductRequest{
		UserID:        user.ID,
		Credits:       credits,
		UsageRecordID: acc.UsageRecordID(),
		FlowID:        exec.FlowID,
		Metadata:      deductionMetadata(usage, adjusted, tier, creditsPerUSD),
		CreatedBy:     user.ID,
	})
	if err != nil {
		return nil, err
	}

	result.Reason = ReasonDeducted
	result.CreditsDeducted = txn.CreditsAmount
	result.TransactionID = txn.ID
	result.CreditsBefore = txn.CreditsBefore
	result.CreditsAfter = txn.CreditsAfter
	return result, nil
}

func deductionMetadata(usage Usage, adjusted decimal.Decimal, tier *licensetierdomain.LicenseTier, creditsPerUSD decimal.Decimal) map[string]any {
	models := make(map[string]any, len(usage.Models))
	for name, model := range usage.Models {
		models[name] = map[string]any{
			"input_tokens":   model.InputTokens,
			"output_tokens":  model.OutputTokens,
			"total_tokens":   model.TotalTokens,
			"total_cost_usd": model.TotalCostUSD.InexactFloat64(),
			"call_count":     model.CallCount,
		}
	}
	return map[string]any{
		"source":            ledgerdomain.SourceLLMExecution,
		"input_tokens":      usage.InputTokens,
		"output_tokens":     usage.OutputTokens,
		"total_tokens":      usage.TotalTokens,
		"cost_usd":          usage.CostUSD.InexactFloat64(),
		"adjusted_cost_usd": adjusted.InexactFloat64(),
		"tier_id":           tier.ID,
		"tier_name":         tier.Name,
		"credits_per_usd":   creditsPerUSD.InexactFloat64(),
		"llm_calls_count":   usage.CallCount,
		"model_usage":       models,
	}
}
