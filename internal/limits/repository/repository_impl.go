package repository

import (
	"context"

	limitsdomain "github.com/smallbiznis/creditline/internal/limits/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() limitsdomain.Repository {
	return &repo{}
}

func (r *repo) CountFlowsByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM flows WHERE user_id = ?`,
		userID,
	).Scan(&count).Error
	return count, err
}
