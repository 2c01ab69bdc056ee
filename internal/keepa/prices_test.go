package keepa

import (
	"math"
	"testing"
	"time"

	"keeper/pkg/types"
)

func eq(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// pair builds a packed series with one (time, value) pair per value.
func pair(values ...int64) []int64 {
	out := make([]int64, 0, len(values)*2)
	for i, v := range values {
		out = append(out, int64(5000000+i), v)
	}
	return out
}

func extract(raw *rawProduct) types.Product {
	return extractProduct(raw, types.DomainDE, time.Unix(1700000000, 0))
}

func TestCurrentPricePriority(t *testing.T) {
	t.Parallel()
	// Amazon wins over Buy Box when both carry a price.
	csv := make([][]int64, 19)
	csv[seriesAmazon] = pair(1999)
	csv[seriesBuyBox] = pair(1899)
	p := extract(&rawProduct{ASIN: "B005EOWBHC", Title: "K120", CSV: csv})
	if !eq(p.CurrentPrice, 19.99) {
		t.Errorf("price = %v, want 19.99 from the Amazon series", p.CurrentPrice)
	}

	// Without an Amazon price, Buy Box is next.
	csv[seriesAmazon] = pair(-1)
	p = extract(&rawProduct{ASIN: "B005EOWBHC", CSV: csv})
	if !eq(p.CurrentPrice, 18.99) {
		t.Errorf("price = %v, want 18.99 from the Buy Box series", p.CurrentPrice)
	}
}

func TestSentinelsSkipped(t *testing.T) {
	t.Parallel()
	// -1 and -2 are not prices; the most recent positive value wins.
	csv := make([][]int64, 12)
	csv[seriesAmazon] = pair(2499, -1, -2)
	p := extract(&rawProduct{ASIN: "B005EOWBHC", CSV: csv})
	if !eq(p.CurrentPrice, 24.99) {
		t.Errorf("price = %v, want 24.99 walking past sentinels", p.CurrentPrice)
	}
}

func TestAllSeriesNegative(t *testing.T) {
	t.Parallel()
	csv := make([][]int64, 19)
	for _, idx := range currentPricePriority {
		csv[idx] = pair(-1, -1)
	}
	p := extract(&rawProduct{ASIN: "B005EOWBHC", CSV: csv})
	if p.CurrentPrice != 0 {
		t.Errorf("price = %v, want 0 for a sold-out product", p.CurrentPrice)
	}
}

func TestStatsCurrentFallback(t *testing.T) {
	t.Parallel()
	stats := &rawStats{Current: make([]int64, 19)}
	for i := range stats.Current {
		stats.Current[i] = -1
	}
	stats.Current[seriesNewFBA] = 1550
	p := extract(&rawProduct{ASIN: "B005EOWBHC", Stats: stats})
	if !eq(p.CurrentPrice, 15.50) {
		t.Errorf("price = %v, want 15.50 from stats.current", p.CurrentPrice)
	}
}

func TestOfferFallback(t *testing.T) {
	t.Parallel()
	p := extract(&rawProduct{
		ASIN:   "B005EOWBHC",
		Offers: []rawOffer{{OfferCSV: pair(-1)}, {OfferCSV: pair(1234)}},
	})
	if !eq(p.CurrentPrice, 12.34) {
		t.Errorf("price = %v, want 12.34 from offers", p.CurrentPrice)
	}
	if p.OffersCount != 2 {
		t.Errorf("offers = %d, want 2", p.OffersCount)
	}
}

func TestRootBuyBoxFallback(t *testing.T) {
	t.Parallel()
	p := extract(&rawProduct{ASIN: "B005EOWBHC", BuyBoxPrice: 999})
	if !eq(p.CurrentPrice, 9.99) {
		t.Errorf("price = %v, want 9.99 from the root buy box field", p.CurrentPrice)
	}
}

func TestListAndBuyBoxPrices(t *testing.T) {
	t.Parallel()
	csv := make([][]int64, 19)
	csv[seriesAmazon] = pair(2000)
	csv[seriesListPrice] = pair(2999)
	csv[seriesBuyBox] = pair(-1)
	csv[seriesBuyBoxUsed] = pair(1800)
	p := extract(&rawProduct{ASIN: "B005EOWBHC", CSV: csv})
	if !eq(p.ListPrice, 29.99) {
		t.Errorf("list = %v, want 29.99", p.ListPrice)
	}
	if !eq(p.BuyBoxPrice, 18.00) {
		t.Errorf("buybox = %v, want 18.00 from the used series", p.BuyBoxPrice)
	}
}

func TestRatingNormalization(t *testing.T) {
	t.Parallel()
	// Tenths form.
	p := extract(&rawProduct{ASIN: "B005EOWBHC", Rating: 45})
	if !eq(p.Rating, 4.5) {
		t.Errorf("rating = %v, want 4.5", p.Rating)
	}
	// Direct form stays.
	p = extract(&rawProduct{ASIN: "B005EOWBHC", Rating: 4.2})
	if !eq(p.Rating, 4.2) {
		t.Errorf("rating = %v, want 4.2", p.Rating)
	}
	// stats.current fallback is in tenths.
	stats := &rawStats{Current: make([]int64, 18)}
	stats.Current[seriesRating] = 43
	p = extract(&rawProduct{ASIN: "B005EOWBHC", Stats: stats})
	if !eq(p.Rating, 4.3) {
		t.Errorf("rating = %v, want 4.3 from stats", p.Rating)
	}
}

func TestRankReviewsHistoryCategory(t *testing.T) {
	t.Parallel()
	csv := make([][]int64, 18)
	csv[seriesAmazon] = pair(1999)
	csv[seriesSalesRank] = pair(1543)
	csv[seriesReviewCount] = pair(287)
	p := extract(&rawProduct{
		ASIN:       "B005EOWBHC",
		CSV:        csv,
		Categories: []int64{340831031, 340843031},
	})
	if p.SalesRank != 1543 {
		t.Errorf("rank = %d, want 1543", p.SalesRank)
	}
	if p.ReviewCount != 287 {
		t.Errorf("reviews = %d, want 287", p.ReviewCount)
	}
	if p.HistoryCount != 3 {
		t.Errorf("history = %d, want 3 non-nil series", p.HistoryCount)
	}
	if p.Category != "340843031" {
		t.Errorf("category = %q, want the leaf node", p.Category)
	}
}

func TestMissingTitle(t *testing.T) {
	t.Parallel()
	p := extract(&rawProduct{ASIN: "B005EOWBHC"})
	if p.Title != "Unknown" {
		t.Errorf("title = %q, want Unknown", p.Title)
	}
}
