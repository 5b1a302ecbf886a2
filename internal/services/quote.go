package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/ai"
	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/repo"
)

// DefaultQuoteTTL is how long a quote or concierge option list stays valid.
const DefaultQuoteTTL = 30 * time.Minute

// Decision is the reading of a customer's reply to a pending quote.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionConfirm
	DecisionCancel
)

var (
	affirmative = map[string]struct{}{"yes": {}, "y": {}, "confirm": {}, "ok": {}, "okay": {}, "oui": {}}
	negative    = map[string]struct{}{"no": {}, "n": {}, "cancel": {}, "non": {}}
)

// ClassifyReply maps a reply to a decision. Matching is exact after trimming
// and lower-casing: "yes please" is not a confirmation.
func ClassifyReply(text string) Decision {
	t := strings.ToLower(strings.TrimSpace(text))
	if _, ok := affirmative[t]; ok {
		return DecisionConfirm
	}
	if _, ok := negative[t]; ok {
		return DecisionCancel
	}
	return DecisionNone
}

// NewQuote turns a model proposal into a pending quote. When the proposal
// carries items but no total, the total is priced from catalog.
func NewQuote(p ai.QuoteProposal, catalog []domain.CatalogItem, now time.Time, ttl time.Duration) domain.OrderQuote {
	q := domain.OrderQuote{
		ID:           uuid.NewString(),
		Total:        p.Total,
		ItemsSummary: p.ItemsSummary,
		NotFound:     p.NotFound,
		Items:        p.Items,
		CreatedAt:    now,
	}
	if q.Total <= 0 && len(q.Items) > 0 {
		t := CalculateOrderTotal(catalog, q.Items)
		q.Total = t.Total
		if len(q.NotFound) == 0 {
			q.NotFound = t.NotFound
		}
		if q.ItemsSummary == "" {
			q.ItemsSummary = t.Summary()
		}
	}
	if ttl > 0 {
		q.ExpiresAt = now.Add(ttl)
	}
	return q
}

// placeOrder creates the order of a confirmed quote. A quote that was
// already confirmed returns the existing order with existed=true.
func placeOrder(ctx context.Context, db *gorm.DB, merchantID, phone string, q domain.OrderQuote) (order *domain.Order, existed bool, err error) {
	o := &domain.Order{
		MerchantID:    merchantID,
		CustomerPhone: phone,
		Total:         q.Total,
		ItemsSummary:  q.ItemsSummary,
		Items:         datatypes.NewJSONType(q.Items),
		NotFoundNote:  strings.Join(q.NotFound, ", "),
		Status:        domain.OrderStatusPending,
		QuoteID:       q.ID,
	}
	if o.Items.Data() == nil {
		o.Items = datatypes.NewJSONType([]domain.LineItem{})
	}
	err = repo.CreateOrder(ctx, db, o)
	if errors.Is(err, repo.ErrDuplicate) {
		prev, gerr := repo.GetOrderByQuoteID(ctx, db, q.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		return prev, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}
