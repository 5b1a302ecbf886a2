package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// ErrUnknownMenuShape is returned by NormalizeMenu for JSON that is neither
// a flat item list nor a category document.
var ErrUnknownMenuShape = errors.New("unknown menu shape")

// legacyItem is one item of a legacy menu blob. Price may be a JSON number or
// a numeric string; a missing "available" means available.
type legacyItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       flexPrice `json:"price"`
	Category    string    `json:"category"`
	Available   *bool     `json:"available"`
}

type legacyCategories struct {
	Categories []struct {
		Name  string       `json:"name"`
		Items []legacyItem `json:"items"`
	} `json:"categories"`
}

type flexPrice int64

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*p = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("price %q: %w", s, err)
	}
	*p = flexPrice(int64(f))
	return nil
}

// NormalizeMenu converts a merchant's legacy menu JSON into catalog items.
//
// Two shapes are accepted:
//
//	[{"name": "...", "price": 3000, ...}]                      // flat list
//	{"categories": [{"name": "Plats", "items": [{...}]}]}       // grouped
//
// In the grouped shape an item's own category wins over its group name.
// Items without a name are skipped. Position follows document order.
func NormalizeMenu(merchantID string, raw []byte) ([]domain.CatalogItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var flat []legacyItem
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, err
		}
	case '{':
		var doc legacyCategories
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		for _, c := range doc.Categories {
			for _, it := range c.Items {
				if it.Category == "" {
					it.Category = c.Name
				}
				flat = append(flat, it)
			}
		}
	default:
		return nil, ErrUnknownMenuShape
	}

	out := make([]domain.CatalogItem, 0, len(flat))
	for _, it := range flat {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		avail := true
		if it.Available != nil {
			avail = *it.Available
		}
		id := it.ID
		if id == "" {
			id = fmt.Sprintf("%s-legacy-%d", merchantID, len(out))
		}
		out = append(out, domain.CatalogItem{
			ID:          id,
			MerchantID:  merchantID,
			Position:    len(out),
			Name:        name,
			Description: it.Description,
			Price:       int64(it.Price),
			Category:    it.Category,
			Available:   avail,
		})
	}
	return out, nil
}
