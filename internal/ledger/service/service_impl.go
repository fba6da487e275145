package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/creditline/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"github.com/smallbiznis/creditline/pkg/db"
	"github.com/smallbiznis/creditline/pkg/db/pagination"
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
	Repo       ledgerdomain.Repository
	UserRepo   userdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       ledgerdomain.Repository
	userRepo   userdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		userRepo:   p.UserRepo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Deduct(ctx context.Context, req ledgerdomain.DeductRequest) (*ledgerdomain.Transaction, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUserID
	}
	if req.Credits <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}
	usageRecordID := strings.TrimSpace(req.UsageRecordID)

	var txn *ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}

		// Checked under the user row lock; dialects without the partial
		// unique index rely on this to reject a concurrent duplicate.
		if usageRecordID != "" {
			existing, err := s.repo.FindDeductionByUsageRecord(ctx, tx, usageRecordID)
			if err != nil {
				return err
			}
			if existing != nil {
				return ledgerdomain.ErrDuplicateUsageRecord
			}
		}

		before := user.RemainingCredits()
		if before < req.Credits {
			return &ledgerdomain.InsufficientCreditsError{
				UserID:    user.ID,
				Required:  req.Credits,
				Available: before,
			}
		}

		now := s.clock.Now()
		used := user.CreditsUsed + req.Credits
		if err := s.userRepo.UpdateCredits(ctx, tx, user.ID, user.CreditsAllocated, used, now); err != nil {
			return err
		}

		metadata := copyMetadata(req.Metadata)
		if _, ok := metadata["source"]; !ok {
			metadata["source"] = ledgerdomain.SourceLLMExecution
		}
		txn = &ledgerdomain.Transaction{
			ID:                  uuid.NewString(),
			UserID:              user.ID,
			TenantID:            user.TenantID,
			FlowID:              optionalString(req.FlowID),
			TransactionType:     ledgerdomain.TransactionTypeDeduction,
			CreditsAmount:       req.Credits,
			CreditsBefore:       before,
			CreditsAfter:        user.CreditsAllocated - used,
			UsageRecordID:       optionalString(usageRecordID),
			TransactionMetadata: metadata,
			CreatedBy:           optionalString(req.CreatedBy),
			Timestamp:           now,
		}
		if err := s.repo.Insert(ctx, tx, txn); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrDuplicateUsageRecord
			}
			return err
		}
		return nil
	})
	if err != nil {
		var insufficient *ledgerdomain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.log.Warn("insufficient credits",
				zap.String("user_id", userID),
				zap.Int64("required", insufficient.Required),
				zap.Int64("available", insufficient.Available),
			)
		}
		return nil, err
	}

	s.record(ctx, txn)
	s.log.Info("credits deducted",
		zap.String("user_id", txn.UserID),
		zap.String("transaction_id", txn.ID),
		zap.Int64("credits", txn.CreditsAmount),
		zap.Int64("credits_after", txn.CreditsAfter),
	)
	return txn, nil
}

func (s *Service) Add(ctx context.Context, req ledgerdomain.AddRequest) (*ledgerdomain.Transaction, error) {
	var txn *ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.add(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, txn)
	return txn, nil
}

func (s *Service) AddTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AddRequest) (*ledgerdomain.Transaction, error) {
	txn, err := s.add(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, txn)
	return txn, nil
}

func (s *Service) add(ctx context.Context, tx *gorm.DB, req ledgerdomain.AddRequest) (*ledgerdomain.Transaction, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUserID
	}
	if req.Credits <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}

	user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	now := s.clock.Now()
	before := user.RemainingCredits()
	allocated := user.CreditsAllocated + req.Credits
	if err := s.userRepo.UpdateCredits(ctx, tx, user.ID, allocated, user.CreditsUsed, now); err != nil {
		return nil, err
	}

	metadata := copyMetadata(req.Metadata)
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = ledgerdomain.SourceManual
	}
	metadata["source"] = source
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		metadata["reason"] = reason
	}

	txn := &ledgerdomain.Transaction{
		ID:                  uuid.NewString(),
		UserID:              user.ID,
		TenantID:            user.TenantID,
		TransactionType:     ledgerdomain.TransactionTypeAddition,
		CreditsAmount:       req.Credits,
		CreditsBefore:       before,
		CreditsAfter:        allocated - user.CreditsUsed,
		TransactionMetadata: metadata,
		CreatedBy:           optionalString(req.CreatedBy),
		Timestamp:           now,
	}
	if err := s.repo.Insert(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Refund returns used credits. The applied amount is capped at the credits
// actually used so the balance never exceeds the allocation.
func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Transaction, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUserID
	}
	if req.Credits <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}

	var txn *ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}

		applied := req.Credits
		if applied > user.CreditsUsed {
			applied = user.CreditsUsed
		}
		if applied == 0 {
			return ledgerdomain.ErrNothingToRefund
		}
		now := s.clock.Now()
		before := user.RemainingCredits()
		used := user.CreditsUsed - applied
		if err := s.userRepo.UpdateCredits(ctx, tx, user.ID, user.CreditsAllocated, used, now); err != nil {
			return err
		}

		metadata := datatypes.JSONMap{
			"source":            ledgerdomain.SourceRefund,
			"requested_credits": req.Credits,
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			metadata["reason"] = reason
		}
		txn = &ledgerdomain.Transaction{
			ID:                  uuid.NewString(),
			UserID:              user.ID,
			TenantID:            user.TenantID,
			FlowID:              optionalString(req.FlowID),
			TransactionType:     ledgerdomain.TransactionTypeRefund,
			CreditsAmount:       applied,
			CreditsBefore:       before,
			CreditsAfter:        user.CreditsAllocated - used,
			TransactionMetadata: metadata,
			CreatedBy:           optionalString(req.RefundedBy),
			Timestamp:           now,
		}
		return s.repo.Insert(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, txn)
	return txn, nil
}

func (s *Service) FindDeduction(ctx context.Context, usageRecordID string) (*ledgerdomain.Transaction, error) {
	usageRecordID = strings.TrimSpace(usageRecordID)
	if usageRecordID == "" {
		return nil, nil
	}
	return s.repo.FindDeductionByUsageRecord(ctx, s.db, usageRecordID)
}

func (s *Service) GetBalance(ctx context.Context, userID string) (*ledgerdomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUserID
	}
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	return &ledgerdomain.Balance{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Allocated: user.CreditsAllocated,
		Used:      user.CreditsUsed,
		Remaining: user.RemainingCredits(),
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	filter := ledgerdomain.ListFilter{
		UserID:   strings.TrimSpace(req.UserID),
		TenantID: strings.TrimSpace(req.TenantID),
	}
	if filter.UserID == "" && filter.TenantID == "" {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidUserID
	}
	if t := strings.ToLower(strings.TrimSpace(req.Type)); t != "" {
		txType, ok := parseTransactionType(t)
		if !ok {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidTransactionType
		}
		filter.Type = txType
	}

	limit := pagination.NormalizePageSize(req.PageSize)
	filter.Limit = int(limit) + 1
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		filter.CursorAt = &at
		filter.CursorID = cursor.ID
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	page, info := pagination.BuildCursorPageInfo(rows, limit, func(t *ledgerdomain.Transaction) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        t.ID,
			CreatedAt: t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	return ledgerdomain.ListTransactionsResponse{PageInfo: *info, Transactions: page}, nil
}

func (s *Service) TrimTransactions(ctx context.Context, keep int64) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	deleted, err := s.repo.TrimOldest(ctx, s.db, keep)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("transactions trimmed", zap.Int64("deleted", deleted), zap.Int64("kept", keep))
	}
	return deleted, nil
}

func (s *Service) record(ctx context.Context, txn *ledgerdomain.Transaction) {
	if txn == nil {
		return
	}
	source, _ := txn.TransactionMetadata["source"].(string)
	s.obsMetrics.RecordLedgerTransaction(ctx, string(txn.TransactionType), source, txn.CreditsAmount)
}

func parseTransactionType(value string) (ledgerdomain.TransactionType, bool) {
	switch ledgerdomain.TransactionType(value) {
	case ledgerdomain.TransactionTypeDeduction,
		ledgerdomain.TransactionTypeAddition,
		ledgerdomain.TransactionTypeRefund,
		ledgerdomain.TransactionTypeUpgrade:
		return ledgerdomain.TransactionType(value), true
	default:
		return "", false
	}
}

func copyMetadata(in map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
