// Package domain contains the append-only credit ledger.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionTypeDeduction TransactionType = "deduction"
	TransactionTypeAddition  TransactionType = "addition"
	TransactionTypeRefund    TransactionType = "refund"
	TransactionTypeUpgrade   TransactionType = "upgrade"
)

// Sources recorded under transaction_metadata.source.
const (
	SourceLLMExecution        = "llm_execution"
	SourceManual              = "manual"
	SourceSubscriptionRenewal = "subscription_renewal"
	SourceLicenseUpgrade      = "license_upgrade"
	SourceRefund              = "refund"
)

// Transaction is one immutable balance change. CreditsBefore and CreditsAfter
// are the user's remaining balance around the change.
type Transaction struct {
	ID                  string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID              string            `gorm:"type:varchar(36);not null;index:idx_transactions_user_ts,priority:1" json:"user_id"`
	TenantID            string            `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	FlowID              *string           `gorm:"type:varchar(64);index" json:"flow_id,omitempty"`
	TransactionType     TransactionType   `gorm:"type:varchar(32);not null" json:"transaction_type"`
	CreditsAmount       int64             `gorm:"not null" json:"credits_amount"`
	CreditsBefore       int64             `gorm:"not null" json:"credits_before"`
	CreditsAfter        int64             `gorm:"not null" json:"credits_after"`
	UsageRecordID       *string           `gorm:"type:varchar(128)" json:"usage_record_id,omitempty"`
	TransactionMetadata datatypes.JSONMap `gorm:"type:json" json:"transaction_metadata,omitempty"`
	CreatedBy           *string           `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	Timestamp           time.Time         `gorm:"not null;index;index:idx_transactions_user_ts,priority:2" json:"timestamp"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Balance is a point-in-time view of a user's credits.
type Balance struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Allocated int64  `json:"credits_allocated"`
	Used      int64  `json:"credits_used"`
	Remaining int64  `json:"credits_remaining"`
}
