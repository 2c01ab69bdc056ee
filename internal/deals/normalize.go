package deals

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"keeper/pkg/types"
)

// defaultSalesRank is assumed when upstream supplies no rank; it lands mid
// range so the rank term neither rewards nor buries the deal.
const defaultSalesRank = 100000

// Normalize converts a heterogeneous upstream deal record into the
// canonical shape. Upstream payloads mix underscore_case and camelCase
// keys, use both "list_price" and "original_price", and sometimes ship
// numbers as strings; every documented alias is accepted.
func Normalize(raw map[string]any) types.Deal {
	d := types.Deal{
		ASIN:            stringField(raw, "asin"),
		Title:           stringField(raw, "title"),
		CurrentPrice:    floatField(raw, "current_price", "currentPrice"),
		ListPrice:       floatField(raw, "list_price", "listPrice", "original_price", "originalPrice"),
		DiscountPercent: floatField(raw, "discount_percent", "discountPercent"),
		Rating:          floatField(raw, "rating"),
		ReviewCount:     intField(raw, 0, "review_count", "reviewCount", "reviews"),
		SalesRank:       intField(raw, 0, "sales_rank", "salesRank"),
		PrimeEligible:   boolField(raw, "prime_eligible", "primeEligible"),
		URL:             stringField(raw, "url", "amazonUrl"),
		Source:          stringField(raw, "source"),
		Category:        stringField(raw, "category"),
		Domain:          types.ParseDomain(intField(raw, 3, "domain_id", "domainId")),
		Market:          stringField(raw, "market"),
		Layout:          stringField(raw, "layout"),
		DealScore:       floatField(raw, "deal_score", "dealScore"),
	}
	return Canonicalize(d)
}

// Canonicalize fills derived and defaulted fields on a typed deal record.
// Idempotent: applying it to its own output changes nothing.
func Canonicalize(d types.Deal) types.Deal {
	d.ASIN = strings.ToUpper(strings.TrimSpace(d.ASIN))
	if !d.Domain.Valid() {
		d.Domain = types.DomainDE
	}
	if d.Market == "" {
		d.Market = d.Domain.Market()
	} else {
		d.Market = strings.ToUpper(d.Market)
	}
	if d.Title == "" {
		d.Title = "Unknown"
	}
	if d.ListPrice <= 0 {
		d.ListPrice = d.CurrentPrice
	}
	if d.DiscountPercent == 0 {
		d.DiscountPercent = computeDiscount(d.CurrentPrice, d.ListPrice)
	}
	if d.URL == "" && d.ASIN != "" {
		d.URL = d.Domain.ProductURL(d.ASIN)
	}
	if d.SalesRank <= 0 {
		d.SalesRank = defaultSalesRank
	}
	if d.Source == "" {
		d.Source = "product_api"
	}
	return d
}

// computeDiscount derives the discount percent from the two prices,
// rounded to one decimal. Zero when the prices give no discount.
func computeDiscount(current, list float64) float64 {
	if list <= 0 || current <= 0 || list <= current {
		return 0
	}
	d := decimal.NewFromFloat(1 - current/list).Mul(decimal.NewFromInt(100))
	out, _ := d.Round(1).Float64()
	return out
}

// DealFromProduct builds a deal record from a product query result, the
// fallback path when the deal endpoint is unavailable.
func DealFromProduct(p types.Product, market string) types.Deal {
	return Canonicalize(types.Deal{
		ASIN:         p.ASIN,
		Title:        p.Title,
		CurrentPrice: p.CurrentPrice,
		ListPrice:    p.ListPrice,
		Rating:       p.Rating,
		ReviewCount:  p.ReviewCount,
		SalesRank:    p.SalesRank,
		Source:       "product_heuristic",
		Category:     p.Category,
		Domain:       p.Domain,
		Market:       market,
	})
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func floatField(raw map[string]any, keys ...string) float64 {
	v, _ := tryFloatField(raw, keys...)
	return v
}

func tryFloatField(raw map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func intField(raw map[string]any, fallback int, keys ...string) int {
	if v, ok := tryFloatField(raw, keys...); ok {
		return int(v)
	}
	return fallback
}

func boolField(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			return strings.EqualFold(strings.TrimSpace(b), "true")
		}
	}
	return false
}
