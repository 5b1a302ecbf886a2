// Package ai contains the clients of the language-model services the
// pipeline depends on: the completion service that writes replies and
// proposes order quotes, and the embedding provider used for catalog
// retrieval.
package ai

import (
	"context"
	"errors"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// ErrUnavailable wraps failures of the upstream model service after retries.
var ErrUnavailable = errors.New("ai service unavailable")

// CatalogEntry is the catalog view sent with a completion request.
type CatalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	Category    string `json:"category,omitempty"`
}

// GenerateRequest is the input of a completion.
type GenerateRequest struct {
	History      []domain.ChatMessage `json:"history"`
	ContextText  string               `json:"context"`
	Catalog      []CatalogEntry       `json:"catalog"`
	MerchantName string               `json:"merchant_name"`
	MerchantID   string               `json:"merchant_id"`
}

// QuoteProposal is an order quote proposed by the model.
type QuoteProposal struct {
	Total        int64             `json:"total"`
	ItemsSummary string            `json:"items_summary"`
	NotFound     []string          `json:"not_found,omitempty"`
	Items        []domain.LineItem `json:"items"`
}

// GenerateResult is the output of a completion.
type GenerateResult struct {
	Response         string         `json:"response"`
	DetectedLanguage string         `json:"detected_language,omitempty"`
	UsedTools        []string       `json:"used_tools,omitempty"`
	OrderQuote       *QuoteProposal `json:"order_quote,omitempty"`
	ImageURL         string         `json:"image_url,omitempty"`
}

// Completer produces the assistant reply for a conversation.
type Completer interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// CatalogEntries converts catalog items into request entries.
func CatalogEntries(items []domain.CatalogItem) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(items))
	for _, it := range items {
		out = append(out, CatalogEntry{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
			Category:    it.Category,
		})
	}
	return out
}
