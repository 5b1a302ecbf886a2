// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// OrdersStats returns aggregate metadata for a merchant's orders: the total
// number of rows and the maximum UpdatedAt among them.
//
// When the merchant has no orders, the returned count is 0 and maxUpdatedAt
// is nil.
func OrdersStats(ctx context.Context, db *gorm.DB, merchantID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(ctx, db.Model(&domain.Order{}).Where("merchant_id = ?", merchantID))
}

// CatalogStats is OrdersStats for catalog items.
func CatalogStats(ctx context.Context, db *gorm.DB, merchantID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(ctx, db.Model(&domain.CatalogItem{}).Where("merchant_id = ?", merchantID))
}

func tableStats(ctx context.Context, q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q = q.WithContext(ctx)

	// Count
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
