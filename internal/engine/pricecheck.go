package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"keeper/internal/store"
	"keeper/internal/stream"
	"keeper/pkg/types"
)

// alertGuard suppresses repeat alerts for the same watch within the hour.
const alertGuard = time.Hour

// runPriceCheck refreshes every active watch. Fetches run concurrently up
// to ParallelPriceFetch; one failing watch never aborts the sweep.
func (e *Engine) runPriceCheck(ctx context.Context) {
	watches, err := e.store.GetActiveWatches(ctx)
	if err != nil {
		e.logger.Error("active watch load failed", "err", err)
		return
	}
	if len(watches) == 0 {
		return
	}
	e.logger.Info("price check started", "watches", len(watches))

	sem := semaphore.NewWeighted(int64(e.cfg.ParallelPriceFetch))
	var wg sync.WaitGroup
	var mu sync.Mutex
	checked, failed := 0, 0

	for _, w := range watches {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(w store.Watch) {
			defer wg.Done()
			defer sem.Release(1)
			err := e.checkWatch(ctx, w)
			mu.Lock()
			if err != nil {
				failed++
			} else {
				checked++
			}
			mu.Unlock()
			if err != nil {
				e.logger.Warn("watch check failed", "asin", w.ASIN, "watch", w.ID, "err", err)
			}
		}(w)
	}
	wg.Wait()

	e.logger.Info("price check finished", "checked", checked, "failed", failed)
}

// checkWatch fetches one watch's current price, records it, and emits the
// downstream events. A product with no extractable price falls back to the
// latest collected deal price; with neither, only last_checked is stamped.
func (e *Engine) checkWatch(ctx context.Context, w store.Watch) error {
	source := "keepa"
	var title string
	var price float64

	product, err := e.client.QueryProduct(ctx, w.ASIN, w.Domain)
	if err != nil {
		return err
	}
	title = product.Title
	price = product.CurrentPrice

	if price <= 0 {
		dbPrice, err := e.store.LatestDealPrice(ctx, w.ASIN)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if dbPrice > 0 {
			price = dbPrice
			source = "deal_fallback"
			e.logger.Debug("using collected deal price", "asin", w.ASIN, "price", price)
		}
	}

	if price <= 0 {
		// Every series sold out or unavailable; keep the watch fresh
		// without fabricating a price point.
		e.logger.Info("no current price", "asin", w.ASIN, "watch", w.ID)
		return e.store.StampLastChecked(ctx, w.ID)
	}

	previous := w.CurrentPrice
	if title == "" {
		title = w.Title
	}

	if _, err := e.store.UpdateWatchPrice(ctx, w.ID, price, source); err != nil {
		return err
	}

	ev := stream.BuildPriceEvent(w.ASIN, title, price, w.TargetPrice, previous, w.Domain)
	e.emitPriceEvent(ctx, ev)

	if store.TargetCrossed(price, w.TargetPrice) {
		recent, err := e.store.HasRecentAlert(ctx, w.ID, alertGuard)
		if err != nil {
			return err
		}
		if !recent {
			if _, err := e.store.CreatePriceAlert(ctx, w.ID, price, w.TargetPrice, previous, price); err != nil {
				return err
			}
			e.logger.Info("target crossed",
				"asin", w.ASIN, "price", price, "target", w.TargetPrice)
		}
	}
	return nil
}

// emitPriceEvent publishes to the event log and search index on a
// best-effort basis; the price is already persisted.
func (e *Engine) emitPriceEvent(ctx context.Context, ev types.PriceEvent) {
	e.mu.Lock()
	p := e.producer
	e.mu.Unlock()
	if p != nil {
		if err := p.PublishPriceEvent(ctx, ev); err != nil {
			e.logger.Warn("price event publish failed", "asin", ev.ASIN, "err", err)
		}
	}
	if e.searchReady() {
		if err := e.searcher.IndexPrice(ctx, ev); err != nil {
			e.logger.Warn("price event index failed", "asin", ev.ASIN, "err", err)
		}
	}
}
