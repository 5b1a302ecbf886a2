// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for CatalogItem.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// MaxRetrievalItems caps how many available items a single retrieval loads.
const MaxRetrievalItems = 200

// ListAvailableItems returns up to limit available items of a merchant in
// catalog order. A non-positive limit means no cap.
func ListAvailableItems(ctx context.Context, db *gorm.DB, merchantID string, limit int) ([]domain.CatalogItem, error) {
	var out []domain.CatalogItem
	q := db.WithContext(ctx).
		Where("merchant_id = ? AND available = ?", merchantID, true).
		Order("position ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListCatalog returns the full catalog of a merchant (available or not).
func ListCatalog(ctx context.Context, db *gorm.DB, merchantID string) ([]domain.CatalogItem, error) {
	var out []domain.CatalogItem
	err := db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("position ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ReplaceCatalog swaps a merchant's whole catalog for items in a single
// transaction. IDs are generated when missing and Position follows slice
// order. The persisted rows are returned.
func ReplaceCatalog(ctx context.Context, db *gorm.DB, merchantID string, items []domain.CatalogItem) ([]domain.CatalogItem, error) {
	now := time.Now().UTC()
	out := make([]domain.CatalogItem, len(items))
	for i, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.MerchantID = merchantID
		it.Position = i
		it.CreatedAt, it.UpdatedAt = now, now
		out[i] = it
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("merchant_id = ?", merchantID).Delete(&domain.CatalogItem{}).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		return tx.CreateInBatches(out, 100).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
