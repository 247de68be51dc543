package database

import (
	"context"
	"errors"

	"shrike/internal/domain"
)

// InsertVisit persists one processed request record.
func InsertVisit(ctx context.Context, visit *domain.VisitLog) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Create(visit).Error
}

// RecentVisits returns the newest records for the admin log endpoint.
func RecentVisits(ctx context.Context, limit int) ([]domain.VisitLog, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}
	if limit <= 0 {
		limit = 40
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var visits []domain.VisitLog
	if err := db.Order("id DESC").Limit(limit).Find(&visits).Error; err != nil {
		return nil, err
	}
	return visits, nil
}
