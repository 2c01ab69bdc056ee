// Package stream connects the pipeline to the event log: blocking
// producers for the price-updates and deal-updates topics, and the two
// consumer groups that write back into the store.
package stream

import (
	"time"

	"github.com/shopspring/decimal"

	"keeper/pkg/types"
)

// Event types carried in the payloads.
const (
	EventPriceUpdate = "price_update"
	EventDealFound   = "deal_found"
)

// BuildPriceEvent assembles a price-updates payload. The percent change is
// relative to the previous price, positive on a drop, rounded to two
// decimals.
func BuildPriceEvent(asin, title string, current, target, previous float64, domain types.Domain) types.PriceEvent {
	var change float64
	if previous > 0 {
		d := decimal.NewFromFloat((previous - current) / previous * 100)
		change, _ = d.Round(2).Float64()
	}
	return types.PriceEvent{
		ASIN:               asin,
		ProductTitle:       title,
		CurrentPrice:       current,
		TargetPrice:        target,
		PreviousPrice:      previous,
		PriceChangePercent: change,
		Domain:             domain.Code(),
		Currency:           "EUR",
		Timestamp:          types.EventTimestamp(time.Now()),
		EventType:          EventPriceUpdate,
	}
}

// BuildDealEvent assembles a deal-updates payload from a scored deal.
func BuildDealEvent(d types.Deal) types.DealEvent {
	return types.DealEvent{
		ASIN:            d.ASIN,
		ProductTitle:    d.Title,
		CurrentPrice:    d.CurrentPrice,
		OriginalPrice:   d.ListPrice,
		DiscountPercent: d.DiscountPercent,
		Rating:          d.Rating,
		ReviewCount:     d.ReviewCount,
		SalesRank:       d.SalesRank,
		Domain:          d.Domain.Code(),
		DomainID:        int(d.Domain),
		Market:          d.Market,
		Timestamp:       types.EventTimestamp(time.Now()),
		EventType:       EventDealFound,
	}
}
