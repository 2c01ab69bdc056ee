// Package keepa implements the rate-limited client for the Keepa price API:
// a process-wide token bucket, the HTTP operations the pipeline uses, and
// the extraction of prices from the API's packed series format.
package keepa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"keeper/pkg/types"
)

const defaultBaseURL = "https://api.keepa.com"

// Token costs per operation, as billed by the API.
const (
	costQuery       = 15
	costDeals       = 5
	costSearch      = 5
	costBestSellers = 3
)

// tokenWait is how long an operation will wait on the bucket before giving
// up with ErrTokensExhausted.
const tokenWait = 120 * time.Second

// retryBackoff is the schedule for transient upstream failures.
var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// throttlePause is how long a 429 pauses the client before its single retry.
const throttlePause = 60 * time.Second

// MetricsSink receives best-effort token telemetry after each API call.
type MetricsSink interface {
	RecordTokenMetric(ctx context.Context, m TokenMetric)
}

// TokenMetric describes one API call for telemetry purposes.
type TokenMetric struct {
	Operation      string
	TokensConsumed int
	TokensLeft     int
	RefillRate     int
	ResponseTime   time.Duration
	Domain         string
	Timestamp      time.Time
}

// DealFilter describes a deal-endpoint search.
type DealFilter struct {
	Page              int
	Domain            types.Domain
	MinDiscount       int
	MaxDiscount       int
	MinPriceCents     int
	MaxPriceCents     int
	MinReviews        int
	IncludeCategories []int64
	ExcludeCategories []int64
	PriceTypes        []int
}

// Client is the rate-limited Keepa API client. All operations draw from the
// shared token bucket before issuing the request and resync the bucket from
// the server-reported balance afterwards.
type Client struct {
	http    *resty.Client
	bucket  *TokenBucket
	apiKey  string
	metrics MetricsSink
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.http.SetBaseURL(url) }
}

// WithMetrics attaches a telemetry sink.
func WithMetrics(m MetricsSink) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a client around the given bucket.
func NewClient(apiKey string, bucket *TokenBucket, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:   resty.New().SetBaseURL(defaultBaseURL).SetTimeout(timeout),
		bucket: bucket,
		apiKey: apiKey,
		logger: logger.With("component", "keepa"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bucket exposes the shared token bucket for status reporting.
func (c *Client) Bucket() *TokenBucket { return c.bucket }

// apiResponse is the common envelope of every API endpoint.
type apiResponse struct {
	TokensLeft int           `json:"tokensLeft"`
	RefillRate int           `json:"refillRate"`
	RefillIn   int           `json:"refillIn"`
	Products   []rawProduct  `json:"products"`
	Deals      *rawDealsPage `json:"deals"`
	ASINList   []string      `json:"asinList"`
	Error      *apiError     `json:"error"`
}

type rawDealsPage struct {
	DR            []rawDeal `json:"dr"`
	CategoryNames []string  `json:"categoryNames"`
}

type rawDeal struct {
	ASIN         string    `json:"asin"`
	Title        string    `json:"title"`
	Current      []int64   `json:"current"`
	DeltaPercent [][]int64 `json:"deltaPercent"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// call acquires tokens, issues the request with the retry policy, decodes
// the envelope, and resyncs the bucket. Transient 5xx/transport failures are
// retried on the backoff schedule; a 429 pauses the client once. notFoundErr,
// when non-nil, is returned for HTTP 404 instead of the generic taxonomy.
func (c *Client) call(ctx context.Context, op, path string, cost int, params map[string]string, notFoundErr error) (*apiResponse, error) {
	if err := c.bucket.Acquire(ctx, cost, tokenWait); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		resp      *resty.Response
		err       error
		throttled bool
	)
	start := time.Now()
	for attempt := 0; ; attempt++ {
		out := &apiResponse{}
		resp, err = c.http.R().
			SetContext(ctx).
			SetQueryParam("key", c.apiKey).
			SetQueryParams(params).
			SetResult(out).
			Get(path)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil || resp.StatusCode() >= 500:
			if attempt < len(retryBackoff) {
				c.logger.Warn("transient upstream failure, retrying",
					"op", op, "attempt", attempt+1, "err", err,
					"status", statusOf(resp))
				if werr := sleepCtx(ctx, retryBackoff[attempt]); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, fmt.Errorf("%s after %d attempts (status %d): %w",
				op, attempt+1, statusOf(resp), ErrUpstreamUnavailable)
		case resp.StatusCode() == 429:
			if throttled {
				return nil, fmt.Errorf("%s: %w", op, ErrUpstreamThrottled)
			}
			throttled = true
			c.logger.Warn("upstream throttled, pausing", "op", op, "pause", throttlePause)
			if werr := sleepCtx(ctx, throttlePause); werr != nil {
				return nil, werr
			}
			continue
		case resp.StatusCode() == 404 && notFoundErr != nil:
			return nil, notFoundErr
		case resp.StatusCode() != 200:
			return nil, fmt.Errorf("%s: status %d: %w", op, resp.StatusCode(), ErrInvalidResponse)
		}

		if out.Error != nil {
			return nil, fmt.Errorf("%s: api error %s (%s): %w",
				op, out.Error.Type, out.Error.Message, ErrInvalidResponse)
		}
		c.syncBucket(ctx, op, cost, out, params["domain"], time.Since(start))
		return out, nil
	}
}

func (c *Client) syncBucket(ctx context.Context, op string, cost int, out *apiResponse, domain string, elapsed time.Duration) {
	// A zero balance is a real answer; only the rate needs a guard
	// (SetRate ignores non-positive values).
	c.bucket.Sync(out.TokensLeft)
	c.bucket.SetRate(out.RefillRate)
	if c.metrics != nil {
		c.metrics.RecordTokenMetric(ctx, TokenMetric{
			Operation:      op,
			TokensConsumed: cost,
			TokensLeft:     out.TokensLeft,
			RefillRate:     out.RefillRate,
			ResponseTime:   elapsed,
			Domain:         domain,
			Timestamp:      time.Now(),
		})
	}
}

func statusOf(r *resty.Response) int {
	if r == nil {
		return 0
	}
	return r.StatusCode()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ValidASIN reports whether asin is a well-formed 10-character identifier.
func ValidASIN(asin string) bool {
	if len(asin) != 10 {
		return false
	}
	for i := 0; i < len(asin); i++ {
		c := asin[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// QueryProduct fetches one product with 90-day stats, price history and up
// to 20 offers. Costs 15 tokens. Invalid ASINs fail before any request.
func (c *Client) QueryProduct(ctx context.Context, asin string, domain types.Domain) (types.Product, error) {
	if !ValidASIN(asin) {
		return types.Product{}, fmt.Errorf("%w: %q", ErrInvalidASIN, asin)
	}
	out, err := c.call(ctx, "query", "/product", costQuery, map[string]string{
		"domain":  fmt.Sprintf("%d", int(domain)),
		"asin":    asin,
		"stats":   "90",
		"history": "1",
		"offers":  "20",
	}, nil)
	if err != nil {
		return types.Product{}, err
	}
	if len(out.Products) == 0 {
		return types.Product{}, fmt.Errorf("query %s: no product in response: %w", asin, ErrInvalidResponse)
	}
	p := extractProduct(&out.Products[0], domain, time.Now())
	c.logger.Debug("product queried",
		"asin", asin, "price", p.CurrentPrice, "list", p.ListPrice,
		"buybox", p.BuyBoxPrice, "rating", p.Rating)
	return p, nil
}

// SearchDeals queries the deal endpoint. Costs 5 tokens. A 404 means the
// account has no deal access and surfaces as ErrDealAccessDenied.
func (c *Client) SearchDeals(ctx context.Context, filter DealFilter) ([]types.Deal, error) {
	selection := map[string]any{
		"page":              filter.Page,
		"domainId":          int(filter.Domain),
		"hasReviews":        filter.MinReviews > 0,
		"isFilterEnabled":   true,
		"isRangeEnabled":    true,
		"deltaPercentRange": []int{filter.MinDiscount, filter.MaxDiscount},
		"currentRange":      []int{filter.MinPriceCents, filter.MaxPriceCents},
	}
	if len(filter.IncludeCategories) > 0 {
		selection["includeCategories"] = filter.IncludeCategories
	}
	if len(filter.ExcludeCategories) > 0 {
		selection["excludeCategories"] = filter.ExcludeCategories
	}
	if len(filter.PriceTypes) > 0 {
		selection["priceTypes"] = filter.PriceTypes
	}
	sel, err := json.Marshal(selection)
	if err != nil {
		return nil, fmt.Errorf("deals: marshal selection: %w", err)
	}

	out, err := c.call(ctx, "deals", "/deal", costDeals, map[string]string{
		"domain":    fmt.Sprintf("%d", int(filter.Domain)),
		"selection": string(sel),
	}, ErrDealAccessDenied)
	if err != nil {
		return nil, err
	}
	if out.Deals == nil {
		return nil, nil
	}

	deals := make([]types.Deal, 0, len(out.Deals.DR))
	for i := range out.Deals.DR {
		if d, ok := extractDeal(&out.Deals.DR[i], filter.Domain); ok {
			deals = append(deals, d)
		}
	}
	return deals, nil
}

// extractDeal converts one deal-endpoint entry. Entries without a usable
// price are dropped.
func extractDeal(raw *rawDeal, domain types.Domain) (types.Deal, bool) {
	var price float64
	for _, idx := range []int{seriesAmazon, seriesNewFBA, seriesNew3rd} {
		if v := statAt(raw.Current, idx); v > 0 {
			price = centsToUnits(v)
			break
		}
	}
	if price <= 0 {
		return types.Deal{}, false
	}

	listPrice := price
	if v := statAt(raw.Current, seriesListPrice); v > 0 {
		listPrice = centsToUnits(v)
	}

	var discount float64
	for _, row := range raw.DeltaPercent {
		if len(row) > 0 && row[0] != 0 {
			discount = float64(row[0])
			if discount < 0 {
				discount = -discount
			}
			break
		}
	}
	if discount == 0 && listPrice > price {
		d := decimal.NewFromFloat(1 - price/listPrice).Mul(decimal.NewFromInt(100))
		discount, _ = d.Round(1).Float64()
	}

	var rating float64
	if v := statAt(raw.Current, seriesRating); v > 0 {
		rating = float64(v) / 10
	}
	reviews := int(statAt(raw.Current, seriesReviewCount))

	title := raw.Title
	if title == "" {
		title = "Unknown"
	}
	return types.Deal{
		ASIN:            raw.ASIN,
		Title:           title,
		CurrentPrice:    price,
		ListPrice:       listPrice,
		DiscountPercent: discount,
		Rating:          rating,
		ReviewCount:     reviews,
		SalesRank:       int(statAt(raw.Current, seriesSalesRank)),
		URL:             domain.ProductURL(raw.ASIN),
		Source:          "deal_api",
		Domain:          domain,
		Market:          domain.Market(),
	}, true
}

// SearchProducts runs a keyword search and returns the lightweight product
// summaries the endpoint ships. Costs 5 tokens.
func (c *Client) SearchProducts(ctx context.Context, term string, domain types.Domain) ([]types.Product, error) {
	out, err := c.call(ctx, "search", "/search", costSearch, map[string]string{
		"domain": fmt.Sprintf("%d", int(domain)),
		"type":   "product",
		"term":   term,
	}, nil)
	if err != nil {
		return nil, err
	}
	products := make([]types.Product, 0, len(out.Products))
	for i := range out.Products {
		products = append(products, extractProduct(&out.Products[i], domain, time.Now()))
	}
	return products, nil
}

// GetBestSellers returns the ASIN ranking for a category. Costs 3 tokens.
func (c *Client) GetBestSellers(ctx context.Context, domain types.Domain, category int64) ([]string, error) {
	out, err := c.call(ctx, "bestsellers", "/bestsellers", costBestSellers, map[string]string{
		"domain":   fmt.Sprintf("%d", int(domain)),
		"category": fmt.Sprintf("%d", category),
	}, nil)
	if err != nil {
		return nil, err
	}
	return out.ASINList, nil
}

// GetTokenStatus asks the API for the live token balance and resyncs the
// bucket. The endpoint itself is free.
func (c *Client) GetTokenStatus(ctx context.Context) (tokensLeft, refillRate int, err error) {
	out, err := c.call(ctx, "token", "/token", 0, nil, nil)
	if err != nil {
		return 0, 0, err
	}
	return out.TokensLeft, out.RefillRate, nil
}
