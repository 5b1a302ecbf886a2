package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/search"
)

// buildContextBlock renders what the model should know beyond the chat:
// merchant facts, customer facts and the catalog items most relevant to the
// current message.
func buildContextBlock(m *domain.Merchant, md domain.Metadata, relevant []search.RetrievedItem, currency string) string {
	cfg := m.Config()
	var b strings.Builder

	fmt.Fprintf(&b, "Business: %s\n", m.Name)
	if m.Cuisine != "" {
		fmt.Fprintf(&b, "Cuisine: %s\n", m.Cuisine)
	}
	if m.Description != "" {
		fmt.Fprintf(&b, "About: %s\n", m.Description)
	}
	if cfg.Hours != "" {
		fmt.Fprintf(&b, "Opening hours: %s\n", cfg.Hours)
	}
	if cfg.OrderingEnabled {
		b.WriteString("Ordering enabled: yes\n")
	} else {
		b.WriteString("Ordering enabled: no\n")
	}
	if cfg.DeliveryInfo != "" {
		fmt.Fprintf(&b, "Delivery: %s\n", cfg.DeliveryInfo)
	}
	if cfg.SpecialInstructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", cfg.SpecialInstructions)
	}
	if cfg.WelcomeMessage != "" {
		fmt.Fprintf(&b, "Welcome message: %s\n", cfg.WelcomeMessage)
	}

	if md.ContactName != "" {
		fmt.Fprintf(&b, "Customer name: %s\n", md.ContactName)
	}
	if loc := locationText(md.Location); loc != "" {
		fmt.Fprintf(&b, "Customer location: %s\n", loc)
	}
	if md.DeliveryEstimate != "" {
		fmt.Fprintf(&b, "Estimated delivery time: %s\n", md.DeliveryEstimate)
	}
	if q := md.PendingOrder; q != nil {
		fmt.Fprintf(&b, "Pending order awaiting confirmation: %s (total %s)\n", q.ItemsSummary, formatAmount(q.Total, currency))
	}

	if len(relevant) > 0 {
		b.WriteString("Most relevant items:\n")
		for _, r := range relevant {
			fmt.Fprintf(&b, "- %s: %s", r.Item.Name, formatAmount(r.Item.Price, currency))
			if r.Item.Description != "" {
				fmt.Fprintf(&b, " (%s)", r.Item.Description)
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
