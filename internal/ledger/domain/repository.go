package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ListFilter struct {
	UserID   string
	TenantID string
	Type     TransactionType
	CursorAt *time.Time
	CursorID string
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindDeductionByUsageRecord(ctx context.Context, db *gorm.DB, usageRecordID string) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Transaction, error)
	// RecentDeductionAmounts returns the newest deduction amounts recorded for a flow.
	RecentDeductionAmounts(ctx context.Context, db *gorm.DB, flowID string, limit int) ([]int64, error)
	CountDeductionsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error)
	// TrimOldest deletes every row older than the newest keep rows.
	TrimOldest(ctx context.Context, db *gorm.DB, keep int64) (int64, error)
}
