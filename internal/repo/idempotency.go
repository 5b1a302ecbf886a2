// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the processed-message receipts used to
// drop duplicate webhook deliveries.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// ClaimMessage records that (phoneNumberID, messageID) is being processed.
// It returns ErrDuplicate when a live receipt already exists. An expired
// receipt is replaced. An empty messageID cannot be deduplicated and is always
// claimable.
func ClaimMessage(ctx context.Context, db *gorm.DB, phoneNumberID, messageID string, ttl time.Duration) (*domain.ProcessedMessage, error) {
	now := time.Now().UTC()
	rec := &domain.ProcessedMessage{
		ID:            uuid.NewString(),
		PhoneNumberID: phoneNumberID,
		MessageID:     messageID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if strings.TrimSpace(messageID) == "" {
		return rec, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("phone_number_id = ? AND message_id = ? AND expires_at <= ?", phoneNumberID, messageID, now).
			Delete(&domain.ProcessedMessage{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReleaseMessage deletes a receipt so the provider's retry of the same
// message is processed again. Used when processing failed before any reply.
func ReleaseMessage(ctx context.Context, db *gorm.DB, phoneNumberID, messageID string) error {
	return db.WithContext(ctx).
		Where("phone_number_id = ? AND message_id = ?", phoneNumberID, messageID).
		Delete(&domain.ProcessedMessage{}).Error
}

// PurgeExpiredReceipts deletes receipts that expired before now and returns
// how many rows were removed.
func PurgeExpiredReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.ProcessedMessage{})
	return res.RowsAffected, res.Error
}
