package domain

import (
	"context"

	"github.com/smallbiznis/creditline/pkg/db/pagination"
	"gorm.io/gorm"
)

type DeductRequest struct {
	UserID        string
	Credits       int64
	UsageRecordID string
	FlowID        string
	Metadata      map[string]any
	CreatedBy     string
}

type AddRequest struct {
	UserID    string         `json:"-"`
	Credits   int64          `json:"credits"`
	Source    string         `json:"source"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata"`
	CreatedBy string         `json:"-"`
}

type RefundRequest struct {
	UserID     string `json:"-"`
	Credits    int64  `json:"credits"`
	Reason     string `json:"reason"`
	FlowID     string `json:"flow_id"`
	RefundedBy string `json:"-"`
}

type ListTransactionsRequest struct {
	UserID    string
	TenantID  string
	Type      string
	PageToken string
	PageSize  int32
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []*Transaction `json:"transactions"`
}

type Service interface {
	Deduct(ctx context.Context, req DeductRequest) (*Transaction, error)
	Add(ctx context.Context, req AddRequest) (*Transaction, error)
	// AddTx applies an addition inside the caller's transaction.
	AddTx(ctx context.Context, tx *gorm.DB, req AddRequest) (*Transaction, error)
	Refund(ctx context.Context, req RefundRequest) (*Transaction, error)
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	// FindDeduction returns the deduction settled for usageRecordID, or nil.
	FindDeduction(ctx context.Context, usageRecordID string) (*Transaction, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	TrimTransactions(ctx context.Context, keep int64) (int64, error)
}
