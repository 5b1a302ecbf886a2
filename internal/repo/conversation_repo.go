// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the conversation store: a bounded
// message history plus typed metadata per conversation key.
//
// Every write is a read-modify-write guarded by the row's Version column.
// A write whose version no longer matches is retried from a fresh read, so
// two concurrent appends to the same key never lose a message.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// ErrConcurrentUpdate is returned when a conversation write kept losing the
// version race after all attempts.
var ErrConcurrentUpdate = errors.New("concurrent conversation update")

const defaultMutateAttempts = 3

// ConversationStore persists conversations keyed by domain.ConversationKey.
type ConversationStore struct {
	DB *gorm.DB

	// Window caps the retained history. Defaults to domain.HistoryWindow.
	Window int
	// MaxAttempts bounds optimistic retries per write. Defaults to 3.
	MaxAttempts int
	// Now is overridable in tests.
	Now func() time.Time
}

// NewConversationStore returns a store with default window and attempts.
func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{DB: db, Window: domain.HistoryWindow, MaxAttempts: defaultMutateAttempts}
}

func (s *ConversationStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ConversationStore) window() int {
	if s.Window > 0 {
		return s.Window
	}
	return domain.HistoryWindow
}

// Load returns the stored conversation for key, or ErrNotFound.
func (s *ConversationStore) Load(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.DB.WithContext(ctx).
		Where("mode = ? AND merchant_id = ? AND customer_phone = ?", key.Mode, key.MerchantID, key.Phone).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetHistory returns the ordered history (oldest first). A conversation that
// does not exist yet has an empty history.
func (s *ConversationStore) GetHistory(ctx context.Context, key domain.ConversationKey) ([]domain.ChatMessage, error) {
	c, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return []domain.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	msgs := c.Messages.Data()
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// GetMetadata returns the metadata of key; empty when the conversation does
// not exist.
func (s *ConversationStore) GetMetadata(ctx context.Context, key domain.ConversationKey) (domain.Metadata, error) {
	c, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return domain.Metadata{}, nil
	}
	if err != nil {
		return domain.Metadata{}, err
	}
	return c.Metadata.Data(), nil
}

// AppendMessage appends msg to the history of key, creating the conversation
// if needed and evicting the oldest entries beyond the window.
func (s *ConversationStore) AppendMessage(ctx context.Context, key domain.ConversationKey, msg domain.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	w := s.window()
	_, err := s.mutate(ctx, key, func(c *domain.Conversation) {
		c.Messages = datatypes.NewJSONType(domain.AppendWindow(c.Messages.Data(), msg, w))
	})
	return err
}

// UpdateMetadata shallow-merges patch into the metadata of key and returns
// the merged result.
func (s *ConversationStore) UpdateMetadata(ctx context.Context, key domain.ConversationKey, patch domain.MetadataPatch) (domain.Metadata, error) {
	c, err := s.mutate(ctx, key, func(c *domain.Conversation) {
		md := c.Metadata.Data()
		md.Apply(patch)
		c.Metadata = datatypes.NewJSONType(md)
	})
	if err != nil {
		return domain.Metadata{}, err
	}
	return c.Metadata.Data(), nil
}

// Clear deletes the conversation of key. Clearing a missing key is a no-op.
func (s *ConversationStore) Clear(ctx context.Context, key domain.ConversationKey) error {
	return s.DB.WithContext(ctx).
		Where("mode = ? AND merchant_id = ? AND customer_phone = ?", key.Mode, key.MerchantID, key.Phone).
		Delete(&domain.Conversation{}).Error
}

func (s *ConversationStore) mutate(ctx context.Context, key domain.ConversationKey, fn func(*domain.Conversation)) (*domain.Conversation, error) {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMutateAttempts
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := s.now()

		c, err := s.Load(ctx, key)
		if errors.Is(err, ErrNotFound) {
			c = &domain.Conversation{
				ID:            uuid.NewString(),
				Mode:          key.Mode,
				MerchantID:    key.MerchantID,
				CustomerPhone: key.Phone,
				Messages:      datatypes.NewJSONType([]domain.ChatMessage{}),
				Metadata:      datatypes.NewJSONType(domain.Metadata{}),
				Version:       1,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			fn(c)
			if err := s.DB.WithContext(ctx).Create(c).Error; err != nil {
				if isUniqueViolation(err) {
					// Someone else created it first; retry as an update.
					continue
				}
				return nil, err
			}
			return c, nil
		}
		if err != nil {
			return nil, err
		}

		prev := c.Version
		fn(c)
		c.Version = prev + 1
		c.UpdatedAt = now

		res := s.DB.WithContext(ctx).
			Model(&domain.Conversation{}).
			Where("id = ? AND version = ?", c.ID, prev).
			Updates(map[string]any{
				"messages":   c.Messages,
				"metadata":   c.Metadata,
				"version":    c.Version,
				"updated_at": c.UpdatedAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return c, nil
		}
	}
	return nil, ErrConcurrentUpdate
}
