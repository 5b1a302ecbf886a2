package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// DefaultCurrency suffixes amounts in customer-facing text.
const DefaultCurrency = "FCFA"

const (
	textConfigError = "Sorry, this WhatsApp number is not set up for ordering yet. Please contact the business directly."
	textOffline     = "Hello! %s is not taking orders right now. Please try again later."
	textFailure     = "Sorry, we're having technical difficulties. Please try again in a few minutes."
	textCancelled   = "No problem, your order has been cancelled. Anything else I can help you with?"

	textAskLocation  = "Welcome! To find food near you, please share your location (📎 > Location) or tell us your neighbourhood."
	textAskQuery     = "Thanks, got your location! What would you like to eat today?"
	textPickOption   = "Thanks, got your location! Reply with the number of the option you want, or tell us what else you'd like to eat."
	textNothingFound = "Sorry, we couldn't find %q at any restaurant right now. Try another dish?"
	textNewQuery     = "Order cancelled. What would you like to eat instead?"

	// DeliveryEstimateShared is set when the customer shares a location.
	DeliveryEstimateShared = "30-45 minutes"
)

// formatAmount renders an amount with the currency suffix.
func formatAmount(amount int64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%d", amount)
	}
	return fmt.Sprintf("%d %s", amount, currency)
}

// quotePrompt appends the confirmation prompt to the model's reply.
func quotePrompt(reply string, q domain.OrderQuote, currency string) string {
	var b strings.Builder
	if r := strings.TrimSpace(reply); r != "" {
		b.WriteString(r)
		b.WriteString("\n\n")
	}
	if q.ItemsSummary != "" {
		fmt.Fprintf(&b, "🧾 %s\n", q.ItemsSummary)
	}
	if len(q.NotFound) > 0 {
		fmt.Fprintf(&b, "Not available: %s\n", strings.Join(q.NotFound, ", "))
	}
	fmt.Fprintf(&b, "Total: %s\n", formatAmount(q.Total, currency))
	b.WriteString("Reply YES to confirm or NO to cancel.")
	return b.String()
}

func confirmationText(o *domain.Order, currency string) string {
	return fmt.Sprintf("✅ Order confirmed! Order #%s\n%s\nTotal: %s\nWe'll let you know when it's on its way.",
		shortID(o.ID), o.ItemsSummary, formatAmount(o.Total, currency))
}

func locationText(loc *domain.Location) string {
	if loc == nil {
		return ""
	}
	return loc.Text
}

// shortID is the first block of a UUID, enough for a customer to quote.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return strings.ToUpper(id[:i])
	}
	return strings.ToUpper(id)
}
