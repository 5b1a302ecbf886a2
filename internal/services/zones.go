package services

import "strings"

// deliveryZone maps neighbourhood keywords to a delivery estimate.
type deliveryZone struct {
	keywords []string
	estimate string
}

// Ordered from most to least specific; the first hit wins.
var deliveryZones = []deliveryZone{
	{[]string{"plateau", "medina", "médina", "fann", "point e", "point-e"}, "20-30 minutes"},
	{[]string{"mermoz", "sacré-coeur", "sacre coeur", "sacré coeur", "liberté", "liberte", "sicap", "hlm", "grand yoff"}, "30-40 minutes"},
	{[]string{"almadies", "ngor", "ouakam", "yoff", "virage"}, "35-50 minutes"},
	{[]string{"parcelles", "guédiawaye", "guediawaye", "pikine", "keur massar"}, "45-60 minutes"},
	{[]string{"rufisque", "diamniadio"}, "60-90 minutes"},
}

// InferDeliveryEstimate looks for a known neighbourhood in text.
func InferDeliveryEstimate(text string) (zone, estimate string, ok bool) {
	low := strings.ToLower(text)
	for _, z := range deliveryZones {
		for _, k := range z.keywords {
			if strings.Contains(low, k) {
				return k, z.estimate, true
			}
		}
	}
	return "", "", false
}
