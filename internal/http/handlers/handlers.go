package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/utils"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

// Dispatcher consumes parsed webhook messages. Implementations decide whether
// processing happens inline or in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []whatsapp.InboundMessage)
}

// AdminService defines the merchant dashboard operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AdminService interface {
	// ReplaceCatalog swaps the merchant's whole catalog.
	ReplaceCatalog(ctx context.Context, merchantID string, items []domain.CatalogItem) ([]domain.CatalogItem, error)
	// CatalogVersion returns the catalog item count and latest update time.
	CatalogVersion(ctx context.Context, merchantID string) (int64, time.Time, error)
	// ListOrders returns one page of orders and the total count.
	ListOrders(ctx context.Context, merchantID string, page utils.Page) ([]domain.Order, int64, error)
	// OrdersVersion returns the order count and latest update time.
	OrdersVersion(ctx context.Context, merchantID string) (int64, time.Time, error)
	// ClearConversation forgets a customer's conversation.
	ClearConversation(ctx context.Context, merchantID, phone string) error
}

// TokenLookup reports whether token is a merchant-specific verify token.
type TokenLookup func(ctx context.Context, token string) (bool, error)

// Handlers groups the webhook and admin endpoints.
type Handlers struct {
	verifyToken string
	knownToken  TokenLookup
	dispatcher  Dispatcher
	admin       AdminService
}

// New constructs Handlers. verifyToken is the global webhook verify token;
// known, when non-nil, is consulted for per-merchant tokens.
func New(verifyToken string, known TokenLookup, d Dispatcher, admin AdminService) *Handlers {
	return &Handlers{verifyToken: verifyToken, knownToken: known, dispatcher: d, admin: admin}
}
