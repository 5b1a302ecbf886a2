package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// PricedLine is a requested line matched to a catalog item.
type PricedLine struct {
	ItemName  string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// OrderTotal is the result of pricing requested lines against a catalog.
type OrderTotal struct {
	Found    []PricedLine
	NotFound []string
	Total    int64
}

// CalculateOrderTotal prices lines against catalog. Names match
// case-insensitively (after trimming); the first matching item wins. Lines
// without a match are reported by their original name. Total is the sum of
// the found subtotals.
func CalculateOrderTotal(catalog []domain.CatalogItem, lines []domain.LineItem) OrderTotal {
	var out OrderTotal
	for _, l := range lines {
		item, ok := findItem(catalog, l.ItemName)
		if !ok {
			out.NotFound = append(out.NotFound, l.ItemName)
			continue
		}
		sub := item.Price * int64(l.Quantity)
		out.Found = append(out.Found, PricedLine{
			ItemName:  item.Name,
			Quantity:  l.Quantity,
			UnitPrice: item.Price,
			Subtotal:  sub,
		})
		out.Total += sub
	}
	return out
}

// Summary renders the found lines as "2x Mafé, 1x Bissap".
func (t OrderTotal) Summary() string {
	parts := make([]string, 0, len(t.Found))
	for _, l := range t.Found {
		parts = append(parts, fmt.Sprintf("%dx %s", l.Quantity, l.ItemName))
	}
	return strings.Join(parts, ", ")
}

func findItem(catalog []domain.CatalogItem, name string) (domain.CatalogItem, bool) {
	name = strings.TrimSpace(name)
	for _, it := range catalog {
		if strings.EqualFold(strings.TrimSpace(it.Name), name) {
			return it, true
		}
	}
	return domain.CatalogItem{}, false
}
