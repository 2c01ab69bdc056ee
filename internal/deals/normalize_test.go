package deals

import (
	"reflect"
	"testing"

	"keeper/pkg/types"
)

func TestNormalizeUnderscoreKeys(t *testing.T) {
	t.Parallel()
	d := Normalize(map[string]any{
		"asin":             "b005eowbhc",
		"title":            "Logitech K120",
		"current_price":    19.99,
		"list_price":       29.99,
		"discount_percent": 33.3,
		"rating":           4.5,
		"review_count":     float64(1200),
		"sales_rank":       float64(950),
		"prime_eligible":   true,
		"domain_id":        float64(3),
		"source":           "deal_api",
	})
	if d.ASIN != "B005EOWBHC" {
		t.Errorf("asin = %q, want uppercased", d.ASIN)
	}
	if d.CurrentPrice != 19.99 || d.ListPrice != 29.99 {
		t.Errorf("prices = %v / %v", d.CurrentPrice, d.ListPrice)
	}
	if d.ReviewCount != 1200 || d.SalesRank != 950 {
		t.Errorf("reviews/rank = %d / %d", d.ReviewCount, d.SalesRank)
	}
	if !d.PrimeEligible {
		t.Error("prime lost")
	}
	if d.Market != "DE" {
		t.Errorf("market = %q, want the domain default DE", d.Market)
	}
}

func TestNormalizeCamelCaseKeys(t *testing.T) {
	t.Parallel()
	d := Normalize(map[string]any{
		"asin":          "B07W6JN8V8",
		"title":         "Logitech G915",
		"currentPrice":  199.99,
		"originalPrice": 249.99,
		"reviewCount":   float64(300),
		"salesRank":     float64(42),
		"primeEligible": "true",
		"domainId":      float64(2),
		"amazonUrl":     "https://amazon.co.uk/dp/B07W6JN8V8",
	})
	if d.CurrentPrice != 199.99 || d.ListPrice != 249.99 {
		t.Errorf("prices = %v / %v", d.CurrentPrice, d.ListPrice)
	}
	if d.Domain != types.DomainUK || d.Market != "UK" {
		t.Errorf("domain/market = %v / %q", d.Domain, d.Market)
	}
	if d.DiscountPercent != 20 {
		t.Errorf("discount = %v, want 20 computed from the prices", d.DiscountPercent)
	}
	if d.URL != "https://amazon.co.uk/dp/B07W6JN8V8" {
		t.Errorf("url = %q", d.URL)
	}
}

func TestNormalizeStringNumbers(t *testing.T) {
	t.Parallel()
	d := Normalize(map[string]any{
		"asin":          "B005EOWBHC",
		"title":         "K120",
		"current_price": "19.99",
		"reviews":       "150",
	})
	if d.CurrentPrice != 19.99 {
		t.Errorf("price = %v, want parsed 19.99", d.CurrentPrice)
	}
	if d.ReviewCount != 150 {
		t.Errorf("reviews = %d, want 150 via the reviews alias", d.ReviewCount)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	d := Normalize(map[string]any{"asin": "B005EOWBHC", "current_price": 25.0})
	if d.Title != "Unknown" {
		t.Errorf("title = %q, want Unknown", d.Title)
	}
	if d.Domain != types.DomainDE {
		t.Errorf("domain = %v, want the DE default", d.Domain)
	}
	if d.ListPrice != 25.0 {
		t.Errorf("list = %v, want to mirror current", d.ListPrice)
	}
	if d.SalesRank != defaultSalesRank {
		t.Errorf("rank = %d, want the %d default", d.SalesRank, defaultSalesRank)
	}
	if d.Source != "product_api" {
		t.Errorf("source = %q, want product_api", d.Source)
	}
	if d.URL != "https://amazon.de/dp/B005EOWBHC" {
		t.Errorf("url = %q", d.URL)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()
	d := Canonicalize(types.Deal{
		ASIN:         " b005eowbhc ",
		CurrentPrice: 19.99,
		ListPrice:    29.99,
		Market:       "de",
	})
	again := Canonicalize(d)
	if !reflect.DeepEqual(d, again) {
		t.Errorf("canonicalize not idempotent:\n first: %+v\nsecond: %+v", d, again)
	}
}

func TestComputeDiscount(t *testing.T) {
	t.Parallel()
	cases := []struct {
		current, list, want float64
	}{
		{19.99, 29.99, 33.3},
		{100, 100, 0}, // no discount
		{100, 80, 0},  // price above list
		{100, 0, 0},
		{0, 100, 0},
	}
	for _, c := range cases {
		if got := computeDiscount(c.current, c.list); got != c.want {
			t.Errorf("computeDiscount(%v, %v) = %v, want %v", c.current, c.list, got, c.want)
		}
	}
}

func TestDealFromProduct(t *testing.T) {
	t.Parallel()
	d := DealFromProduct(types.Product{
		ASIN:         "B005EOWBHC",
		Title:        "Logitech K120",
		CurrentPrice: 19.99,
		ListPrice:    29.99,
		Rating:       4.5,
		ReviewCount:  1200,
		Domain:       types.DomainDE,
	}, "DE")
	if d.Source != "product_heuristic" {
		t.Errorf("source = %q, want product_heuristic", d.Source)
	}
	if d.DiscountPercent != 33.3 {
		t.Errorf("discount = %v, want 33.3", d.DiscountPercent)
	}
	if d.SalesRank != defaultSalesRank {
		t.Errorf("rank = %d, want the default for rankless products", d.SalesRank)
	}
}
