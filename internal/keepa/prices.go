package keepa

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"keeper/pkg/types"
)

// Packed price series indices used by the API. Each csv[i] is a flat array of
// alternating (keepaTime, value) pairs in cents; -1 means not available and
// -2 means no data for the interval.
const (
	seriesAmazon      = 0
	seriesNew3rd      = 1
	seriesSalesRank   = 3
	seriesListPrice   = 4
	seriesNewFBA      = 7
	seriesWarehouse   = 9
	seriesBuyBox      = 11
	seriesUsedLikeNew = 12
	seriesRating      = 16
	seriesReviewCount = 17
	seriesBuyBoxUsed  = 18
)

// currentPricePriority is the series order tried for the current price:
// Amazon, Buy Box, New FBA, New 3rd party, Used Like New, Buy Box Used,
// Warehouse.
var currentPricePriority = []int{
	seriesAmazon, seriesBuyBox, seriesNewFBA, seriesNew3rd,
	seriesUsedLikeNew, seriesBuyBoxUsed, seriesWarehouse,
}

// statsFallbackPriority extends the chain with the remaining price slots when
// falling back to the stats.current summary array.
var statsFallbackPriority = []int{
	0, 11, 7, 1, 12, 18, 9, 5, 6, 8, 13, 14, 15,
}

// rawProduct mirrors the fields of a product object in an API response that
// the extractor reads. Everything else is ignored on decode.
type rawProduct struct {
	ASIN        string      `json:"asin"`
	Title       string      `json:"title"`
	CSV         [][]int64   `json:"csv"`
	Stats       *rawStats   `json:"stats"`
	Offers      []rawOffer  `json:"offers"`
	BuyBoxPrice int64       `json:"buyBoxPrice"`
	Rating      float64     `json:"rating"`
	Categories  []int64     `json:"categories"`
	DomainID    int         `json:"domainId"`
}

type rawStats struct {
	Current     []int64 `json:"current"`
	BuyBoxPrice int64   `json:"buyBoxPrice"`
	ListPrice   int64   `json:"listPrice"`
}

type rawOffer struct {
	OfferCSV []int64 `json:"offerCSV"`
}

// centsToUnits converts an API cent value to currency units.
func centsToUnits(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}

// lastValidPrice walks a packed series backwards over the value slots (odd
// positions) and returns the most recent positive price in currency units,
// or 0 when the series has none.
func lastValidPrice(series []int64) float64 {
	if len(series) < 2 {
		return 0
	}
	for i := len(series) - 1; i >= 1; i -= 2 {
		if v := series[i]; v > 0 {
			return centsToUnits(v)
		}
	}
	return 0
}

// lastValidValue is lastValidPrice without the cent conversion, for the
// rank/rating/review series.
func lastValidValue(series []int64) int64 {
	if len(series) < 2 {
		return 0
	}
	for i := len(series) - 1; i >= 1; i -= 2 {
		if v := series[i]; v > 0 {
			return v
		}
	}
	return 0
}

// seriesAt returns csv[idx] or nil when the slot is absent.
func seriesAt(csv [][]int64, idx int) []int64 {
	if idx < len(csv) {
		return csv[idx]
	}
	return nil
}

// statAt returns stats.current[idx] or 0 when the slot is absent.
func statAt(current []int64, idx int) int64 {
	if idx < len(current) {
		return current[idx]
	}
	return 0
}

// extractProduct turns a raw API product into the canonical Product. The
// priority chain and fallbacks deliberately tolerate sparse payloads: every
// field independently degrades to its zero value.
func extractProduct(raw *rawProduct, domain types.Domain, now time.Time) types.Product {
	p := types.Product{
		ASIN:      raw.ASIN,
		Title:     raw.Title,
		Domain:    domain,
		FetchedAt: now,
	}
	if p.Title == "" {
		p.Title = "Unknown"
	}

	for _, idx := range currentPricePriority {
		if v := lastValidPrice(seriesAt(raw.CSV, idx)); v > 0 {
			p.CurrentPrice = v
			break
		}
	}
	p.ListPrice = lastValidPrice(seriesAt(raw.CSV, seriesListPrice))
	for _, idx := range []int{seriesBuyBox, seriesBuyBoxUsed} {
		if v := lastValidPrice(seriesAt(raw.CSV, idx)); v > 0 {
			p.BuyBoxPrice = v
			break
		}
	}
	p.SalesRank = int(lastValidValue(seriesAt(raw.CSV, seriesSalesRank)))
	p.ReviewCount = int(lastValidValue(seriesAt(raw.CSV, seriesReviewCount)))

	// Summary-array fallback when the packed series carried nothing.
	if raw.Stats != nil {
		cur := raw.Stats.Current
		if p.CurrentPrice == 0 {
			for _, idx := range statsFallbackPriority {
				if v := statAt(cur, idx); v > 0 {
					p.CurrentPrice = centsToUnits(v)
					break
				}
			}
		}
		if p.BuyBoxPrice == 0 {
			for _, idx := range []int{seriesBuyBox, seriesBuyBoxUsed} {
				if v := statAt(cur, idx); v > 0 {
					p.BuyBoxPrice = centsToUnits(v)
					break
				}
			}
		}
		if p.ListPrice == 0 {
			if v := statAt(cur, seriesListPrice); v > 0 {
				p.ListPrice = centsToUnits(v)
			}
		}
		if p.SalesRank == 0 {
			if v := statAt(cur, seriesSalesRank); v > 0 {
				p.SalesRank = int(v)
			}
		}
		if p.ReviewCount == 0 {
			if v := statAt(cur, seriesReviewCount); v > 0 {
				p.ReviewCount = int(v)
			}
		}
		if p.BuyBoxPrice == 0 && raw.Stats.BuyBoxPrice > 0 {
			p.BuyBoxPrice = centsToUnits(raw.Stats.BuyBoxPrice)
		}
		if p.ListPrice == 0 && raw.Stats.ListPrice > 0 {
			p.ListPrice = centsToUnits(raw.Stats.ListPrice)
		}
	}

	// Offer-level fallback, then the root buy box field.
	if p.CurrentPrice == 0 {
		for _, offer := range raw.Offers {
			if v := lastValidPrice(offer.OfferCSV); v > 0 {
				p.CurrentPrice = v
				break
			}
		}
	}
	if p.CurrentPrice == 0 && raw.BuyBoxPrice > 0 {
		p.CurrentPrice = centsToUnits(raw.BuyBoxPrice)
	}

	// Rating arrives either as 0-5 directly or as 0-50 tenths.
	rating := raw.Rating
	if rating > 10 {
		rating /= 10
	}
	if rating <= 0 && raw.Stats != nil {
		if v := statAt(raw.Stats.Current, seriesRating); v > 0 {
			rating = float64(v) / 10
		}
	}
	p.Rating = rating

	p.OffersCount = len(raw.Offers)
	for _, series := range raw.CSV {
		if series != nil {
			p.HistoryCount++
		}
	}
	if n := len(raw.Categories); n > 0 && raw.Categories[n-1] > 0 {
		// Category ids are opaque numeric nodes; keep them as decimal strings.
		p.Category = strconv.FormatInt(raw.Categories[n-1], 10)
	}
	return p
}
