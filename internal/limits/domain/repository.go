package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	CountFlowsByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
}
