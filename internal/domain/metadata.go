package domain

import (
	"time"
)

// HistoryWindow is the maximum number of messages retained per conversation.
// Older messages are evicted first.
const HistoryWindow = 50

// ConversationMode distinguishes regular merchant conversations from the
// shared concierge identity.
type ConversationMode string

const (
	ModeMerchant  ConversationMode = "merchant"
	ModeConcierge ConversationMode = "concierge"
)

// ConversationKey addresses one conversation in the store.
type ConversationKey struct {
	Mode       ConversationMode
	MerchantID string
	Phone      string
}

// MerchantKey returns the key of a customer's conversation with a merchant.
func MerchantKey(merchantID, phone string) ConversationKey {
	return ConversationKey{Mode: ModeMerchant, MerchantID: merchantID, Phone: phone}
}

// ConciergeKey returns the key of a customer's concierge conversation.
func ConciergeKey(phone string) ConversationKey {
	return ConversationKey{Mode: ModeConcierge, Phone: phone}
}

// String renders the key for logs and lock maps.
func (k ConversationKey) String() string {
	return string(k.Mode) + ":" + k.MerchantID + ":" + k.Phone
}

// LineItem is one requested product of a quote or order.
type LineItem struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

// OrderQuote is a proposed, unconfirmed order awaiting a yes/no reply.
// MerchantID is only set for concierge quotes (the selected merchant).
type OrderQuote struct {
	ID           string     `json:"id"`
	Total        int64      `json:"total"`
	ItemsSummary string     `json:"items_summary"`
	NotFound     []string   `json:"not_found,omitempty"`
	Items        []LineItem `json:"items"`
	MerchantID   string     `json:"merchant_id,omitempty"`
	MerchantName string     `json:"merchant_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at,omitempty"`
}

// Expired reports whether the quote is past its expiry. A zero ExpiresAt
// never expires.
func (q *OrderQuote) Expired(now time.Time) bool {
	return q != nil && !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// Location is what we know about where the customer is.
type Location struct {
	Text      string   `json:"text"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// SampleItem is the catalog item shown for a concierge option.
type SampleItem struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// ConciergeOption is one merchant offered by a concierge search.
type ConciergeOption struct {
	MerchantID   string     `json:"merchant_id"`
	MerchantName string     `json:"merchant_name"`
	MatchCount   int        `json:"match_count"`
	Sample       SampleItem `json:"sample"`
}

// OptionList is the numbered menu last presented by the concierge.
type OptionList struct {
	Query     string            `json:"query"`
	Options   []ConciergeOption `json:"options"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
}

// Expired reports whether the option list is past its expiry.
func (l *OptionList) Expired(now time.Time) bool {
	return l != nil && !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// Metadata is the typed per-conversation state bag. Regular conversations use
// PendingOrder; concierge conversations use the Concierge* fields.
type Metadata struct {
	ContactName           string      `json:"contact_name,omitempty"`
	Location              *Location   `json:"location,omitempty"`
	DeliveryEstimate      string      `json:"delivery_estimate,omitempty"`
	PendingOrder          *OrderQuote `json:"pending_order,omitempty"`
	ConciergeOptions      *OptionList `json:"concierge_options,omitempty"`
	ConciergePendingOrder *OrderQuote `json:"concierge_pending_order,omitempty"`
}

// MetadataKey names a removable metadata field.
type MetadataKey string

const (
	KeyContactName           MetadataKey = "contactName"
	KeyLocation              MetadataKey = "location"
	KeyDeliveryEstimate      MetadataKey = "deliveryEstimate"
	KeyPendingOrder          MetadataKey = "pendingOrder"
	KeyConciergeOptions      MetadataKey = "conciergeOptions"
	KeyConciergePendingOrder MetadataKey = "conciergePendingOrder"
)

// MetadataPatch is a shallow merge applied to Metadata. Nil fields leave the
// stored value untouched; keys listed in Remove are deleted after the sets.
type MetadataPatch struct {
	ContactName           *string
	Location              *Location
	DeliveryEstimate      *string
	PendingOrder          *OrderQuote
	ConciergeOptions      *OptionList
	ConciergePendingOrder *OrderQuote

	Remove []MetadataKey
}

// Apply merges p into m.
func (m *Metadata) Apply(p MetadataPatch) {
	if p.ContactName != nil {
		m.ContactName = *p.ContactName
	}
	if p.Location != nil {
		loc := *p.Location
		m.Location = &loc
	}
	if p.DeliveryEstimate != nil {
		m.DeliveryEstimate = *p.DeliveryEstimate
	}
	if p.PendingOrder != nil {
		q := *p.PendingOrder
		m.PendingOrder = &q
	}
	if p.ConciergeOptions != nil {
		l := *p.ConciergeOptions
		m.ConciergeOptions = &l
	}
	if p.ConciergePendingOrder != nil {
		q := *p.ConciergePendingOrder
		m.ConciergePendingOrder = &q
	}
	for _, k := range p.Remove {
		switch k {
		case KeyContactName:
			m.ContactName = ""
		case KeyLocation:
			m.Location = nil
		case KeyDeliveryEstimate:
			m.DeliveryEstimate = ""
		case KeyPendingOrder:
			m.PendingOrder = nil
		case KeyConciergeOptions:
			m.ConciergeOptions = nil
		case KeyConciergePendingOrder:
			m.ConciergePendingOrder = nil
		}
	}
}

// AppendWindow returns history with msg appended, keeping at most window
// entries by dropping the oldest. The input slice is not modified.
func AppendWindow(history []ChatMessage, msg ChatMessage, window int) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, msg)
	if window > 0 && len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

// LastTurns returns the trailing n messages of history.
func LastTurns(history []ChatMessage, n int) []ChatMessage {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
