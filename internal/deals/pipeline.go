// Package deals implements the deal collection pipeline: seed resolution,
// querying the price API per cycle, normalization, scoring, spam and
// keyboard filtering, layout annotation, and the fan-out to the store,
// the event log and the search index.
package deals

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"keeper/internal/keepa"
	"keeper/internal/store"
	"keeper/internal/stream"
	"keeper/pkg/types"
)

// keyboardCategoryID is the marketplace browse node for keyboards. The
// node is too broad on its own, which is why titles are post-filtered.
const keyboardCategoryID = 340843031

// queryConcurrency bounds parallel product queries in the fallback path.
const queryConcurrency = 5

// alertGuardWindow matches the consumer-side alert suppression window.
const alertGuardWindow = time.Hour

// Deal-endpoint search defaults for the keyboard scan.
var keyboardDealFilter = keepa.DealFilter{
	MinDiscount:       10,
	MaxDiscount:       90,
	MinPriceCents:     1500,
	MaxPriceCents:     30000,
	IncludeCategories: []int64{keyboardCategoryID},
}

// PriceAPI is the slice of the API client the pipeline uses.
type PriceAPI interface {
	QueryProduct(ctx context.Context, asin string, domain types.Domain) (types.Product, error)
	SearchDeals(ctx context.Context, filter keepa.DealFilter) ([]types.Deal, error)
}

// EventSink publishes collected deals to the event log.
type EventSink interface {
	PublishDealEvent(ctx context.Context, ev types.DealEvent) error
}

// SearchSink indexes collected deals.
type SearchSink interface {
	IndexDeal(ctx context.Context, d types.Deal) error
}

// Config controls one pipeline instance.
type Config struct {
	Mode         string // "deals" or "product_only"
	ScanInterval time.Duration
	BatchSize    int
}

// Pipeline is the long-running deal collector. One instance runs as a
// background task owned by the engine.
type Pipeline struct {
	api    PriceAPI
	store  *store.Store
	events EventSink
	search SearchSink
	seeds  *SeedSource
	cfg    Config
	logger *slog.Logger

	// dealDenied flips permanently when the deal endpoint 404s; the
	// process then stays on product queries.
	dealDenied bool
	cursor     int
}

// New builds a pipeline. Event and search sinks may be nil; the pipeline
// then skips those writes.
func New(api PriceAPI, st *store.Store, events EventSink, search SearchSink, seeds *SeedSource, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		api:    api,
		store:  st,
		events: events,
		search: search,
		seeds:  seeds,
		cfg:    cfg,
		logger: logger.With("component", "deals"),
	}
}

// Run executes scan cycles until ctx is canceled. The first cycle starts
// immediately.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("deal collector started",
		"interval", p.cfg.ScanInterval, "batch_size", p.cfg.BatchSize, "mode", p.cfg.Mode)
	for {
		p.runCycle(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("deal collector stopped")
			return
		case <-time.After(p.cfg.ScanInterval):
		}
	}
}

// runCycle performs one collection pass.
func (p *Pipeline) runCycle(ctx context.Context) {
	targets := p.seeds.Targets()
	batch := SelectBatch(targets, p.cfg.BatchSize, p.cursor)
	p.cursor += p.cfg.BatchSize
	if len(batch) == 0 {
		p.logger.Warn("no seed targets resolved")
		return
	}

	collected := p.collectFromDealEndpoint(ctx, batch)
	if len(collected) == 0 {
		collected = p.collectFromProducts(ctx, batch)
	}
	if len(collected) == 0 {
		p.logger.Info("no deals collected this cycle")
		return
	}

	for i := range collected {
		if collected[i].Layout == "" {
			collected[i].Layout = DetectLayout(collected[i].Title, collected[i].Market)
		}
	}

	p.fanOut(ctx, collected)
}

// collectFromDealEndpoint queries the deal endpoint once per distinct
// marketplace in the batch, unless the mode or an earlier 404 forbids it.
func (p *Pipeline) collectFromDealEndpoint(ctx context.Context, batch []Target) []types.Deal {
	if p.cfg.Mode != "deals" || p.dealDenied {
		return nil
	}

	domains := make([]types.Domain, 0, 2)
	seen := map[types.Domain]bool{}
	for _, t := range batch {
		if !seen[t.Domain] {
			seen[t.Domain] = true
			domains = append(domains, t.Domain)
		}
	}

	var collected []types.Deal
	for _, domain := range domains {
		filter := keyboardDealFilter
		filter.Domain = domain
		found, err := p.api.SearchDeals(ctx, filter)
		if errors.Is(err, keepa.ErrDealAccessDenied) {
			// Permanent for this process; product queries from now on.
			p.dealDenied = true
			p.logger.Warn("deal endpoint not available, switching to product queries")
			return nil
		}
		if err != nil {
			p.logger.Warn("deal search failed", "domain", domain.Code(), "err", err)
			continue
		}

		kept := 0
		for _, d := range found {
			d = Canonicalize(d)
			if !KeepKeyboard(d) || IsSpam(d) {
				continue
			}
			collected = append(collected, WithScore(d))
			kept++
		}
		p.logger.Info("deal search complete",
			"domain", domain.Code(), "returned", len(found), "kept", kept)
	}
	return collected
}

// collectFromProducts queries each seed product directly, bounded by the
// query semaphore. Per-item failures are logged and skipped.
func (p *Pipeline) collectFromProducts(ctx context.Context, batch []Target) []types.Deal {
	sem := semaphore.NewWeighted(queryConcurrency)
	var (
		mu        sync.Mutex
		collected []types.Deal
		wg        sync.WaitGroup
	)

	for _, target := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			defer sem.Release(1)

			product, err := p.api.QueryProduct(ctx, t.ASIN, t.Domain)
			if err != nil {
				p.logger.Warn("seed query failed", "asin", t.ASIN, "err", err)
				return
			}
			if product.CurrentPrice <= 0 {
				return
			}
			deal := WithScore(DealFromProduct(product, t.Market))
			if IsSpam(deal) {
				return
			}
			mu.Lock()
			collected = append(collected, deal)
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	return collected
}

// fanOut writes kept deals to every sink. Each sink is guarded on its own
// so one outage cannot starve the others; the store write comes first as
// the source of truth.
func (p *Pipeline) fanOut(ctx context.Context, collected []types.Deal) {
	saved, err := p.store.SaveCollectedDealsBatch(ctx, collected)
	if err != nil {
		p.logger.Error("deal batch save failed", "err", err)
	}

	published, indexed := 0, 0
	for _, d := range collected {
		if p.events != nil {
			if err := p.events.PublishDealEvent(ctx, stream.BuildDealEvent(d)); err != nil {
				p.logger.Warn("deal publish failed", "asin", d.ASIN, "err", err)
			} else {
				published++
			}
		}
		if p.search != nil {
			if err := p.search.IndexDeal(ctx, d); err != nil {
				p.logger.Warn("deal indexing failed", "asin", d.ASIN, "err", err)
			} else {
				indexed++
			}
		}
		p.checkWatchTargets(ctx, d)
	}

	p.logger.Info("deal cycle complete",
		"collected", len(collected), "saved", saved,
		"published", published, "indexed", indexed)
}

// checkWatchTargets raises alerts for users whose watch target the deal
// price crosses, under the one-hour guard window.
func (p *Pipeline) checkWatchTargets(ctx context.Context, d types.Deal) {
	watches, err := p.store.WatchesForASIN(ctx, d.ASIN)
	if err != nil {
		p.logger.Warn("watch lookup failed", "asin", d.ASIN, "err", err)
		return
	}
	for _, w := range watches {
		if !store.TargetCrossed(d.CurrentPrice, w.TargetPrice) {
			continue
		}
		recent, err := p.store.HasRecentAlert(ctx, w.ID, alertGuardWindow)
		if err != nil || recent {
			continue
		}
		if _, err := p.store.CreatePriceAlert(ctx, w.ID, d.CurrentPrice,
			w.TargetPrice, w.CurrentPrice, d.CurrentPrice); err != nil {
			p.logger.Warn("alert creation failed", "watch", w.ID, "err", err)
		}
	}
}
