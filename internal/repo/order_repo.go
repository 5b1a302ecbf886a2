// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Order.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// CreateOrder inserts o. A second order for the same QuoteID yields
// ErrDuplicate.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetOrderByQuoteID returns the order created from quoteID, or ErrNotFound.
func GetOrderByQuoteID(ctx context.Context, db *gorm.DB, quoteID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("quote_id = ?", quoteID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns a merchant's orders, newest first, with offset/limit
// paging.
func ListOrders(ctx context.Context, db *gorm.DB, merchantID string, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	q := db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC, id DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
