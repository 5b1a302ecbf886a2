// Package services – AdminService
//
// AdminService backs the merchant dashboard API: wholesale catalog
// replacement, paged order listing and conversation resets.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/search"
	"github.com/tbourn/go-wa-commerce/internal/utils"
)

// MaxCatalogItems caps a single catalog upload.
const MaxCatalogItems = 500

// AdminService implements the dashboard operations.
type AdminService struct {
	DB    *gorm.DB
	Store *repo.ConversationStore
	// Embedder, when set, precomputes item embeddings on catalog upload.
	// Failures leave the embedding empty and retrieval falls back to the
	// local hash embedding.
	Embedder search.Embedder
}

// ReplaceCatalog validates items and swaps them in as the merchant's whole
// catalog. Validation failures wrap ErrInvalidCatalog; an unknown merchant
// yields repo.ErrNotFound.
func (s *AdminService) ReplaceCatalog(ctx context.Context, merchantID string, items []domain.CatalogItem) ([]domain.CatalogItem, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "ReplaceCatalog")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", merchantID), attribute.Int("catalog.items", len(items)))

	if _, err := repo.GetMerchant(ctx, s.DB, merchantID); err != nil {
		return nil, err
	}
	if err := validateCatalog(items); err != nil {
		return nil, err
	}

	clean := make([]domain.CatalogItem, len(items))
	for i, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		it.Description = strings.TrimSpace(it.Description)
		it.Category = strings.TrimSpace(it.Category)
		it.Embedding = s.embed(ctx, it)
		clean[i] = it
	}
	return repo.ReplaceCatalog(ctx, s.DB, merchantID, clean)
}

func validateCatalog(items []domain.CatalogItem) error {
	if len(items) > MaxCatalogItems {
		return fmt.Errorf("%w: %d items exceeds the limit of %d", ErrInvalidCatalog, len(items), MaxCatalogItems)
	}
	seen := make(map[string]int, len(items))
	for i, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidCatalog, i)
		}
		if it.Price < 0 {
			return fmt.Errorf("%w: item %q has a negative price", ErrInvalidCatalog, name)
		}
		k := strings.ToLower(name)
		if j, dup := seen[k]; dup {
			return fmt.Errorf("%w: items %d and %d share the name %q", ErrInvalidCatalog, j, i, name)
		}
		seen[k] = i
	}
	return nil
}

func (s *AdminService) embed(ctx context.Context, it domain.CatalogItem) *pgvector.Vector {
	if s.Embedder == nil {
		return nil
	}
	text := strings.TrimSpace(it.Name + " " + it.Description + " " + it.Category)
	v, err := s.Embedder.Embed(ctx, text)
	if err != nil || len(v) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("item", it.Name).Msg("catalog embedding skipped")
		}
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

// ListOrders returns one page of a merchant's orders, newest first, and the
// total order count.
func (s *AdminService) ListOrders(ctx context.Context, merchantID string, page utils.Page) ([]domain.Order, int64, error) {
	total, _, err := repo.OrdersStats(ctx, s.DB, merchantID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListOrders(ctx, s.DB, merchantID, page.Offset(), page.Size)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// OrdersVersion summarizes the merchant's order set for conditional
// requests: the row count and the latest update time (zero when empty).
func (s *AdminService) OrdersVersion(ctx context.Context, merchantID string) (int64, time.Time, error) {
	count, maxTS, err := repo.OrdersStats(ctx, s.DB, merchantID)
	if err != nil {
		return 0, time.Time{}, err
	}
	var ts time.Time
	if maxTS != nil {
		ts = *maxTS
	}
	return count, ts, nil
}

// CatalogVersion is OrdersVersion for the merchant's catalog items.
func (s *AdminService) CatalogVersion(ctx context.Context, merchantID string) (int64, time.Time, error) {
	count, maxTS, err := repo.CatalogStats(ctx, s.DB, merchantID)
	if err != nil {
		return 0, time.Time{}, err
	}
	var ts time.Time
	if maxTS != nil {
		ts = *maxTS
	}
	return count, ts, nil
}

// ClearConversation forgets a customer's conversation with a merchant. For
// the concierge number the shared concierge conversation is cleared.
func (s *AdminService) ClearConversation(ctx context.Context, merchantID, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("phone is required")
	}
	m, err := repo.GetMerchant(ctx, s.DB, merchantID)
	if err != nil {
		return err
	}
	key := domain.MerchantKey(m.ID, phone)
	if m.IsConcierge {
		key = domain.ConciergeKey(phone)
	}
	return s.Store.Clear(ctx, key)
}
