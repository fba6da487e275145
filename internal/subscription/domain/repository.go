package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	FindActiveByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	ListDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	InsertHistory(ctx context.Context, db *gorm.DB, entry *SubscriptionHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, subscriptionID string) ([]SubscriptionHistory, error)
}
