package database

import (
	"context"
	"errors"
	"time"

	"shrike/internal/domain"

	"gorm.io/gorm/clause"
)

// UpsertBlockedIP stores a block entry, refreshing reason, permanence and
// timestamp when a row for the IP already exists. At most one row per IP.
func UpsertBlockedIP(ctx context.Context, entry domain.BlockedIP) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "permanent", "created_at"}),
	}).Create(&entry).Error
}

// DeleteBlockedIP removes the entry for the given IP, if any.
func DeleteBlockedIP(ctx context.Context, ip string) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Where("ip = ?", ip).Delete(&domain.BlockedIP{}).Error
}

// ListBlockedIPs returns all block entries, newest first.
func ListBlockedIPs(ctx context.Context) ([]domain.BlockedIP, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var entries []domain.BlockedIP
	if err := db.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// PurgeExpiredBlocks deletes temporary entries created before the cutoff and
// returns the IPs that were removed. Permanent entries are never touched.
func PurgeExpiredBlocks(ctx context.Context, cutoff time.Time) ([]string, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var expired []string
	if err := db.Model(&domain.BlockedIP{}).
		Where("permanent = ? AND created_at < ?", false, cutoff).
		Pluck("ip", &expired).Error; err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	if err := db.Where("permanent = ? AND created_at < ?", false, cutoff).
		Delete(&domain.BlockedIP{}).Error; err != nil {
		return nil, err
	}
	return expired, nil
}
