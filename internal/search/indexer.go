// Package search writes pipeline output to the search index. The writer is
// best-effort: it is never transactional with the relational store, and a
// failed write only costs the document, not the pipeline.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"keeper/internal/keepa"
	"keeper/pkg/types"
)

// retentionDays is how long documents live before the retention pass
// removes them.
const retentionDays = 90

// indexBackoff is the retry schedule for document writes.
var indexBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Writer indexes price updates, deals and token telemetry.
type Writer struct {
	es           *elasticsearch.Client
	priceIndex   string
	dealIndex    string
	metricsIndex string
	logger       *slog.Logger
}

// NewWriter builds a writer; Connect must run before the first write.
func NewWriter(url, priceIndex, dealIndex, metricsIndex string, logger *slog.Logger) (*Writer, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return &Writer{
		es:           es,
		priceIndex:   priceIndex,
		dealIndex:    dealIndex,
		metricsIndex: metricsIndex,
		logger:       logger.With("component", "search"),
	}, nil
}

// Connect creates the indexes if absent, with their analyzers and mappings.
func (w *Writer) Connect(ctx context.Context) error {
	for _, ix := range []struct {
		name    string
		mapping string
	}{
		{w.priceIndex, priceIndexMapping},
		{w.dealIndex, dealIndexMapping},
		{w.metricsIndex, metricsIndexMapping},
	} {
		if err := w.ensureIndex(ctx, ix.name, ix.mapping); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) ensureIndex(ctx context.Context, name, mapping string) error {
	res, err := w.es.Indices.Exists([]string{name}, w.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	drain(res)
	if res.StatusCode == 200 {
		return nil
	}

	res, err = w.es.Indices.Create(name,
		w.es.Indices.Create.WithContext(ctx),
		w.es.Indices.Create.WithBody(strings.NewReader(mapping)))
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("create index %s: status %s", name, res.Status())
	}
	w.logger.Info("search index created", "index", name)
	return nil
}

// priceDocument is the price-index document shape. It mirrors the event
// payload except for the change field, which the index names in full.
type priceDocument struct {
	ASIN               string  `json:"asin"`
	ProductTitle       string  `json:"product_title"`
	CurrentPrice       float64 `json:"current_price"`
	TargetPrice        float64 `json:"target_price"`
	PreviousPrice      float64 `json:"previous_price"`
	PriceChangePercent float64 `json:"price_change_percent"`
	Domain             string  `json:"domain"`
	Currency           string  `json:"currency"`
	Timestamp          string  `json:"timestamp"`
	EventType          string  `json:"event_type"`
}

// IndexPrice writes one price-update document with retry.
func (w *Writer) IndexPrice(ctx context.Context, ev types.PriceEvent) error {
	doc := priceDocument{
		ASIN:               ev.ASIN,
		ProductTitle:       ev.ProductTitle,
		CurrentPrice:       ev.CurrentPrice,
		TargetPrice:        ev.TargetPrice,
		PreviousPrice:      ev.PreviousPrice,
		PriceChangePercent: ev.PriceChangePercent,
		Domain:             ev.Domain,
		Currency:           ev.Currency,
		Timestamp:          ev.Timestamp,
		EventType:          ev.EventType,
	}
	return w.indexWithRetry(ctx, w.priceIndex, doc)
}

// dealDocument is the deal-index document shape.
type dealDocument struct {
	ASIN            string  `json:"asin"`
	Title           string  `json:"title"`
	CurrentPrice    float64 `json:"current_price"`
	OriginalPrice   float64 `json:"original_price"`
	DiscountPercent float64 `json:"discount_percent"`
	Rating          float64 `json:"rating"`
	ReviewCount     int     `json:"review_count"`
	SalesRank       int     `json:"sales_rank"`
	Domain          string  `json:"domain"`
	Category        string  `json:"category"`
	PrimeEligible   bool    `json:"prime_eligible"`
	URL             string  `json:"url"`
	DealScore       float64 `json:"deal_score"`
	Timestamp       string  `json:"timestamp"`
	EventType       string  `json:"event_type"`
}

// IndexDeal writes one scored deal with retry.
func (w *Writer) IndexDeal(ctx context.Context, d types.Deal) error {
	doc := dealDocument{
		ASIN:            d.ASIN,
		Title:           d.Title,
		CurrentPrice:    d.CurrentPrice,
		OriginalPrice:   d.ListPrice,
		DiscountPercent: d.DiscountPercent,
		Rating:          d.Rating,
		ReviewCount:     d.ReviewCount,
		SalesRank:       d.SalesRank,
		Domain:          d.Domain.Code(),
		Category:        d.Category,
		PrimeEligible:   d.PrimeEligible,
		URL:             d.URL,
		DealScore:       d.DealScore,
		Timestamp:       types.EventTimestamp(time.Now()),
		EventType:       "deal_found",
	}
	return w.indexWithRetry(ctx, w.dealIndex, doc)
}

func (w *Writer) indexWithRetry(ctx context.Context, index string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", index, err)
	}
	var lastErr error
	for attempt := 0; attempt <= len(indexBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(indexBackoff[attempt-1]):
			}
		}
		lastErr = w.indexOnce(ctx, index, body)
		if lastErr == nil {
			return nil
		}
		w.logger.Warn("index write failed",
			"index", index, "attempt", attempt+1, "err", lastErr)
	}
	return fmt.Errorf("index to %s: %w", index, lastErr)
}

func (w *Writer) indexOnce(ctx context.Context, index string, body []byte) error {
	res, err := w.es.Index(index, strings.NewReader(string(body)),
		w.es.Index.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("status %s", res.Status())
	}
	return nil
}

// RecordTokenMetric implements keepa.MetricsSink: one document per API
// call, best-effort with no retry.
func (w *Writer) RecordTokenMetric(ctx context.Context, m keepa.TokenMetric) {
	doc := map[string]any{
		"timestamp":        types.EventTimestamp(m.Timestamp),
		"operation":        m.Operation,
		"tokens_consumed":  m.TokensConsumed,
		"tokens_left":      m.TokensLeft,
		"refill_rate":      m.RefillRate,
		"response_time_ms": m.ResponseTime.Milliseconds(),
		"domain":           m.Domain,
		"success":          true,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := w.indexOnce(ctx, w.metricsIndex, body); err != nil {
		w.logger.Debug("token metric write failed", "err", err)
	}
}

// DeleteOldDocuments removes documents past the retention window from the
// price and deal indexes, returning the deleted count.
func (w *Writer) DeleteOldDocuments(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`{
		"query": {"range": {"timestamp": {"lt": "now-%dd"}}}
	}`, retentionDays)

	res, err := w.es.DeleteByQuery(
		[]string{w.priceIndex, w.dealIndex},
		strings.NewReader(query),
		w.es.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("retention delete: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return 0, fmt.Errorf("retention delete: status %s", res.Status())
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("retention delete: decode: %w", err)
	}
	if out.Deleted > 0 {
		w.logger.Info("retention pass removed documents", "deleted", out.Deleted)
	}
	return out.Deleted, nil
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}
