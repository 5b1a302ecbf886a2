package services

import (
	"strings"
	"testing"

	"gorm.io/datatypes"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/search"
)

func TestInferDeliveryEstimate(t *testing.T) {
	cases := []struct {
		text, zone, est string
		ok              bool
	}{
		{"I'm in Plateau", "plateau", "20-30 minutes", true},
		{"livraison à Sacré-Coeur 3 ?", "sacré-coeur", "30-40 minutes", true},
		{"PIKINE please", "pikine", "45-60 minutes", true},
		{"I want 2 mafé", "", "", false},
	}
	for _, tc := range cases {
		zone, est, ok := InferDeliveryEstimate(tc.text)
		if zone != tc.zone || est != tc.est || ok != tc.ok {
			t.Errorf("InferDeliveryEstimate(%q) = %q, %q, %v", tc.text, zone, est, ok)
		}
	}
}

func TestBuildContextBlock(t *testing.T) {
	m := &domain.Merchant{
		Name:    "Chez Fatou",
		Cuisine: "Senegalese",
		Chatbot: datatypes.NewJSONType(domain.ChatbotConfig{DeliveryInfo: "Free above 10000"}),
	}
	md := domain.Metadata{
		ContactName:      "Awa",
		Location:         &domain.Location{Text: "plateau"},
		DeliveryEstimate: "20-30 minutes",
	}
	relevant := []search.RetrievedItem{{Item: domain.CatalogItem{Name: "Mafé", Price: 3500, Description: "sauce arachide"}, Score: 1}}

	got := buildContextBlock(m, md, relevant, "FCFA")
	for _, want := range []string{
		"Business: Chez Fatou",
		"Cuisine: Senegalese",
		"Ordering enabled: no",
		"Delivery: Free above 10000",
		"Customer name: Awa",
		"Customer location: plateau",
		"Estimated delivery time: 20-30 minutes",
		"- Mafé: 3500 FCFA (sauce arachide)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context block missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Opening hours") || strings.HasSuffix(got, "\n") {
		t.Fatalf("unexpected content:\n%s", got)
	}

	m.Chatbot = datatypes.NewJSONType(domain.ChatbotConfig{OrderingEnabled: true})
	if got := buildContextBlock(m, domain.Metadata{}, nil, "FCFA"); !strings.Contains(got, "Ordering enabled: yes") {
		t.Fatalf("ordering flag missing:\n%s", got)
	}
}

func TestQuotePrompt(t *testing.T) {
	q := domain.OrderQuote{Total: 7000, ItemsSummary: "2x Mafé", NotFound: []string{"Pizza"}}
	got := quotePrompt("Sure!", q, "FCFA")
	want := "Sure!\n\n🧾 2x Mafé\nNot available: Pizza\nTotal: 7000 FCFA\nReply YES to confirm or NO to cancel."
	if got != want {
		t.Fatalf("quotePrompt =\n%q\nwant\n%q", got, want)
	}
	if shortID("3f2a9c1e-aaaa") != "3F2A9C1E" {
		t.Fatalf("shortID")
	}
}
