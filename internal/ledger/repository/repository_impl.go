package repository

import (
	"context"
	"time"

	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	"gorm.io/gorm"
)

const transactionColumns = `id, user_id, tenant_id, flow_id, transaction_type, credits_amount, credits_before,
	 credits_after, usage_record_id, transaction_metadata, created_by, timestamp`

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *ledgerdomain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.UserID,
		txn.TenantID,
		txn.FlowID,
		txn.TransactionType,
		txn.CreditsAmount,
		txn.CreditsBefore,
		txn.CreditsAfter,
		txn.UsageRecordID,
		txn.TransactionMetadata,
		txn.CreatedBy,
		txn.Timestamp,
	).Error
}

func (r *repo) FindDeductionByUsageRecord(ctx context.Context, db *gorm.DB, usageRecordID string) (*ledgerdomain.Transaction, error) {
	var txn ledgerdomain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE usage_record_id = ? AND transaction_type = ?
		 LIMIT 1`,
		usageRecordID,
		ledgerdomain.TransactionTypeDeduction,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == "" {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter ledgerdomain.ListFilter) ([]*ledgerdomain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1 = 1`
	args := []any{}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Type != "" {
		query += ` AND transaction_type = ?`
		args = append(args, filter.Type)
	}
	if filter.CursorAt != nil {
		query += ` AND (timestamp < ? OR (timestamp = ? AND id < ?))`
		args = append(args, *filter.CursorAt, *filter.CursorAt, filter.CursorID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	var txns []*ledgerdomain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) RecentDeductionAmounts(ctx context.Context, db *gorm.DB, flowID string, limit int) ([]int64, error) {
	var amounts []int64
	err := db.WithContext(ctx).Raw(
		`SELECT credits_amount
		 FROM transactions
		 WHERE flow_id = ? AND transaction_type = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		flowID,
		ledgerdomain.TransactionTypeDeduction,
		limit,
	).Scan(&amounts).Error
	if err != nil {
		return nil, err
	}
	return amounts, nil
}

func (r *repo) CountDeductionsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM transactions
		 WHERE user_id = ? AND transaction_type = ? AND timestamp >= ?`,
		userID,
		ledgerdomain.TransactionTypeDeduction,
		since,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) TrimOldest(ctx context.Context, db *gorm.DB, keep int64) (int64, error) {
	var cutoff struct {
		ID        string
		Timestamp time.Time
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, timestamp
		 FROM transactions
		 ORDER BY timestamp DESC, id DESC
		 LIMIT 1 OFFSET ?`,
		keep,
	).Scan(&cutoff).Error
	if err != nil {
		return 0, err
	}
	if cutoff.ID == "" {
		return 0, nil
	}

	result := db.WithContext(ctx).Exec(
		`DELETE FROM transactions
		 WHERE timestamp < ? OR (timestamp = ? AND id <= ?)`,
		cutoff.Timestamp,
		cutoff.Timestamp,
		cutoff.ID,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
