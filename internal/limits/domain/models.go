// Package domain contains tier limit checks for flows and metered API calls.
package domain

import "time"

// Flow is owned by the workflow engine; limits only count rows.
type Flow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	TenantID  string    `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Flow) TableName() string { return "flows" }

type LimitKind string

const (
	LimitKindFlows    LimitKind = "flows"
	LimitKindAPICalls LimitKind = "api_calls"
)

type CheckResult struct {
	Allowed      bool       `json:"allowed"`
	IsSuperadmin bool       `json:"is_superadmin"`
	Unlimited    bool       `json:"unlimited"`
	CurrentCount int64      `json:"current_count"`
	MaxAllowed   *int64     `json:"max_allowed"`
	Remaining    *int64     `json:"remaining,omitempty"`
	TierName     string     `json:"tier_name,omitempty"`
	PeriodStart  *time.Time `json:"period_start,omitempty"`
}

type Usage struct {
	Current     int64      `json:"current"`
	Max         *int64     `json:"max"`
	Unlimited   bool       `json:"unlimited"`
	Remaining   *int64     `json:"remaining"`
	PercentUsed float64    `json:"percent_used"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
}

type TierRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Status struct {
	UserID       string   `json:"user_id"`
	IsSuperadmin bool     `json:"is_superadmin"`
	Flows        *Usage   `json:"flows,omitempty"`
	APICalls     *Usage   `json:"api_calls,omitempty"`
	Tier         *TierRef `json:"tier,omitempty"`
}
