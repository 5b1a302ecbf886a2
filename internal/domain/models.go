// Package domain defines the persistence models for merchants, catalogs,
// conversations and orders. These types are mapped with GORM and form the
// core data layer of the WhatsApp commerce pipeline.
package domain

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Message roles stored in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// OrderStatusPending is the initial status of an order created from a
// confirmed quote.
const OrderStatusPending = "pending"

// ChatbotConfig is the merchant-authored textual configuration injected into
// the AI context block.
type ChatbotConfig struct {
	WelcomeMessage      string `json:"welcome_message,omitempty"`
	Hours               string `json:"hours,omitempty"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
	DeliveryInfo        string `json:"delivery_info,omitempty"`
	OrderingEnabled     bool   `json:"ordering_enabled"`
}

// Merchant represents a tenant business (mostly restaurants) reachable on
// WhatsApp through its own phone-number identifier.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - PhoneNumberID: provider-assigned identifier; unique when set, used to
//     route inbound webhooks. Merchants still onboarding leave it empty.
//   - AccessToken / AppSecret / VerifyToken: messaging-provider credentials.
//   - ProviderAPIKey / ProviderBaseURL: optional alternate upstream provider.
//   - LegacyMenu: catalog blob from older onboarding flows (two shapes, see
//     search.NormalizeMenu); used when the merchant has no catalog rows.
type Merchant struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string `json:"name"         gorm:"type:varchar(255);not null"`
	Description string `json:"description"  gorm:"type:text"`
	Cuisine     string `json:"cuisine"      gorm:"type:varchar(128)"`
	Active      bool   `json:"active"       gorm:"not null"`
	IsConcierge bool   `json:"is_concierge" gorm:"not null;index"`

	Chatbot datatypes.JSONType[ChatbotConfig] `json:"chatbot"`

	AccessToken     string `json:"-" gorm:"type:text"`
	PhoneNumberID   string `json:"phone_number_id" gorm:"type:varchar(64);uniqueIndex:ux_merchants_phone_number_id,where:phone_number_id <> ''"`
	AppSecret       string `json:"-" gorm:"type:text"`
	VerifyToken     string `json:"-" gorm:"type:varchar(255);index"`
	ProviderAPIKey  string `json:"-" gorm:"type:text"`
	ProviderBaseURL string `json:"-" gorm:"type:text"`

	LegacyMenu datatypes.JSON `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Merchant.
func (Merchant) TableName() string { return "merchants" }

// Config returns the decoded chatbot configuration.
func (m *Merchant) Config() ChatbotConfig { return m.Chatbot.Data() }

// CatalogItem is a single sellable product of a merchant. Items are read-only
// to the pipeline; menu management replaces them wholesale.
//
// Position preserves catalog iteration order so that ranking ties resolve
// deterministically.
type CatalogItem struct {
	ID          string           `json:"id"          gorm:"type:char(36);primaryKey"`
	MerchantID  string           `json:"merchant_id" gorm:"type:char(36);not null;index:idx_catalog_merchant,priority:1"`
	Position    int              `json:"position"    gorm:"not null;index:idx_catalog_merchant,priority:2"`
	Name        string           `json:"name"        gorm:"type:varchar(255);not null"`
	Description string           `json:"description" gorm:"type:text"`
	Price       int64            `json:"price"       gorm:"not null"`
	Category    string           `json:"category,omitempty" gorm:"type:varchar(128)"`
	Available   bool             `json:"available"   gorm:"not null"`
	Embedding   *pgvector.Vector `json:"-"           gorm:"type:text"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TableName returns the database table name for CatalogItem.
func (CatalogItem) TableName() string { return "catalog_items" }

// SearchText is the lower-cased concatenation of name, description and
// category used by substring matching.
func (c CatalogItem) SearchText() string {
	return strings.ToLower(c.Name + " " + c.Description + " " + c.Category)
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds the bounded history and typed metadata of a customer
// talking to a merchant, or to the concierge.
//
// The (mode, merchant_id, customer_phone) triple is unique. Concierge
// conversations carry an empty MerchantID. Version is bumped on every write
// and guards read-modify-write updates.
type Conversation struct {
	ID            string                            `json:"id"             gorm:"type:char(36);primaryKey"`
	Mode          ConversationMode                  `json:"mode"           gorm:"type:varchar(16);not null;uniqueIndex:ux_conversation_key,priority:1"`
	MerchantID    string                            `json:"merchant_id"    gorm:"type:varchar(36);not null;uniqueIndex:ux_conversation_key,priority:2"`
	CustomerPhone string                            `json:"customer_phone" gorm:"type:varchar(32);not null;uniqueIndex:ux_conversation_key,priority:3"`
	Messages      datatypes.JSONType[[]ChatMessage] `json:"messages"`
	Metadata      datatypes.JSONType[Metadata]      `json:"metadata"`
	Version       int64                             `json:"version"        gorm:"not null"`
	CreatedAt     time.Time                         `json:"created_at"`
	UpdatedAt     time.Time                         `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Key returns the conversation key of the row.
func (c *Conversation) Key() ConversationKey {
	return ConversationKey{Mode: c.Mode, MerchantID: c.MerchantID, Phone: c.CustomerPhone}
}

// Order is created exactly once per confirmed quote. QuoteID is unique so a
// retried confirmation cannot produce a second order.
type Order struct {
	ID            string                         `json:"id"             gorm:"type:char(36);primaryKey"`
	MerchantID    string                         `json:"merchant_id"    gorm:"type:char(36);not null;index:idx_orders_merchant,priority:1"`
	CustomerPhone string                         `json:"customer_phone" gorm:"type:varchar(32);not null"`
	Total         int64                          `json:"total"          gorm:"not null"`
	ItemsSummary  string                         `json:"items_summary"  gorm:"type:text"`
	Items         datatypes.JSONType[[]LineItem] `json:"items"`
	NotFoundNote  string                         `json:"not_found_note,omitempty" gorm:"type:text"`
	Status        string                         `json:"status"         gorm:"type:varchar(32);not null"`
	QuoteID       string                         `json:"quote_id"       gorm:"type:char(36);not null;uniqueIndex"`
	CreatedAt     time.Time                      `json:"created_at"     gorm:"index:idx_orders_merchant,priority:2"`
	UpdatedAt     time.Time                      `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }
