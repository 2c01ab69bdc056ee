// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the keeper pipeline — marketplace
// domains, products as returned by the price API, deals flowing through the
// collector, and the event payloads published to the event log. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Marketplace domains
// ————————————————————————————————————————————————————————————————————————

// Domain is the numeric marketplace identifier used by the price API.
type Domain int

const (
	DomainUS Domain = 1
	DomainUK Domain = 2
	DomainDE Domain = 3
	DomainFR Domain = 4
	DomainIT Domain = 8
	DomainES Domain = 9
)

// domainCodes maps a Domain to its lowercase country code.
var domainCodes = map[Domain]string{
	DomainUS: "us",
	DomainUK: "uk",
	DomainDE: "de",
	DomainFR: "fr",
	DomainIT: "it",
	DomainES: "es",
}

// domainHosts maps a Domain to the marketplace hostname used for product URLs.
var domainHosts = map[Domain]string{
	DomainUS: "amazon.com",
	DomainUK: "amazon.co.uk",
	DomainDE: "amazon.de",
	DomainFR: "amazon.fr",
	DomainIT: "amazon.it",
	DomainES: "amazon.es",
}

// Valid reports whether d is one of the supported marketplaces.
func (d Domain) Valid() bool {
	_, ok := domainCodes[d]
	return ok
}

// Code returns the lowercase country code ("de", "fr", ...). Unknown domains
// fall back to "de", the pipeline's default market.
func (d Domain) Code() string {
	if c, ok := domainCodes[d]; ok {
		return c
	}
	return "de"
}

// Market returns the uppercase market label ("DE", "FR", ...).
func (d Domain) Market() string {
	c := d.Code()
	b := []byte(c)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

// Host returns the marketplace hostname for building product URLs.
func (d Domain) Host() string {
	if h, ok := domainHosts[d]; ok {
		return h
	}
	return "amazon.de"
}

// ProductURL builds the canonical product page URL for an ASIN on this domain.
func (d Domain) ProductURL(asin string) string {
	return "https://" + d.Host() + "/dp/" + asin
}

// ParseDomain normalizes an arbitrary numeric value to a supported Domain,
// falling back to DE when the value is unknown.
func ParseDomain(v int) Domain {
	d := Domain(v)
	if d.Valid() {
		return d
	}
	return DomainDE
}

// ————————————————————————————————————————————————————————————————————————
// Products and deals
// ————————————————————————————————————————————————————————————————————————

// Product is the canonical result of a product query against the price API.
// Prices are in currency units (the API reports cents; the client converts).
// A zero CurrentPrice means the API had no usable price for any series.
type Product struct {
	ASIN         string
	Title        string
	CurrentPrice float64
	ListPrice    float64
	BuyBoxPrice  float64
	Rating       float64
	ReviewCount  int
	SalesRank    int
	OffersCount  int
	Category     string
	Domain       Domain
	HistoryCount int
	FetchedAt    time.Time
}

// Deal is a scored, normalized deal snapshot flowing through the collector.
type Deal struct {
	ASIN            string  `json:"asin"`
	Title           string  `json:"title"`
	CurrentPrice    float64 `json:"current_price"`
	ListPrice       float64 `json:"list_price"`
	DiscountPercent float64 `json:"discount_percent"`
	Rating          float64 `json:"rating"`
	ReviewCount     int     `json:"review_count"`
	SalesRank       int     `json:"sales_rank"`
	PrimeEligible   bool    `json:"prime_eligible"`
	URL             string  `json:"url"`
	Source          string  `json:"source"`
	Category        string  `json:"category"`
	Domain          Domain  `json:"domain_id"`
	Market          string  `json:"market"`
	Layout          string  `json:"layout,omitempty"`
	DealScore       float64 `json:"deal_score"`
}

// ————————————————————————————————————————————————————————————————————————
// Event log payloads
// ————————————————————————————————————————————————————————————————————————

// PriceEvent is the JSON payload published to the price-updates topic,
// keyed by ASIN so per-product ordering holds within a partition.
type PriceEvent struct {
	ASIN               string  `json:"asin"`
	ProductTitle       string  `json:"product_title"`
	CurrentPrice       float64 `json:"current_price"`
	TargetPrice        float64 `json:"target_price"`
	PreviousPrice      float64 `json:"previous_price"`
	PriceChangePercent float64 `json:"price_change"`
	Domain             string  `json:"domain"`
	Currency           string  `json:"currency"`
	Timestamp          string  `json:"timestamp"`
	EventType          string  `json:"event_type"`
}

// DealEvent is the JSON payload published to the deal-updates topic.
type DealEvent struct {
	ASIN            string  `json:"asin"`
	ProductTitle    string  `json:"product_title"`
	CurrentPrice    float64 `json:"current_price"`
	OriginalPrice   float64 `json:"original_price"`
	DiscountPercent float64 `json:"discount_percent"`
	Rating          float64 `json:"rating"`
	ReviewCount     int     `json:"review_count"`
	SalesRank       int     `json:"sales_rank"`
	Domain          string  `json:"domain"`
	DomainID        int     `json:"domain_id"`
	Market          string  `json:"market"`
	Timestamp       string  `json:"timestamp"`
	EventType       string  `json:"event_type"`
}

// EventTimestamp formats t the way both topics and the search index expect.
func EventTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
