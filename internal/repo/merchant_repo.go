// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Merchant
// model.
//
// Merchants are read-only to the message pipeline; CreateMerchant exists for
// onboarding tooling and tests.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// CreateMerchant inserts m, generating an ID when empty.
func CreateMerchant(ctx context.Context, db *gorm.DB, m *domain.Merchant) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	return db.WithContext(ctx).Create(m).Error
}

// GetMerchant fetches a merchant by primary key, or ErrNotFound.
func GetMerchant(ctx context.Context, db *gorm.DB, id string) (*domain.Merchant, error) {
	var m domain.Merchant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMerchantByPhoneNumberID resolves the merchant that owns a provider
// phone-number identifier, or ErrNotFound.
func GetMerchantByPhoneNumberID(ctx context.Context, db *gorm.DB, phoneNumberID string) (*domain.Merchant, error) {
	if strings.TrimSpace(phoneNumberID) == "" {
		return nil, ErrNotFound
	}
	var m domain.Merchant
	err := db.WithContext(ctx).
		Where("phone_number_id = ?", phoneNumberID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListSearchableMerchants returns active, non-concierge merchants in a stable
// order (created_at, id). These are the candidates of a concierge search.
func ListSearchableMerchants(ctx context.Context, db *gorm.DB) ([]domain.Merchant, error) {
	var out []domain.Merchant
	err := db.WithContext(ctx).
		Where("active = ? AND is_concierge = ?", true, false).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// VerifyTokenKnown reports whether any merchant registered token as its
// webhook verify token.
func VerifyTokenKnown(ctx context.Context, db *gorm.DB, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Merchant{}).
		Where("verify_token = ?", token).
		Count(&n).Error
	return n > 0, err
}
