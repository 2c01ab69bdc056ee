// Package engine wires the pipeline together and owns its lifecycle: the
// ordered startup sequence, the periodic price-check loop, daily deal
// reports, and graceful shutdown in reverse order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keeper/internal/alerts"
	"keeper/internal/config"
	"keeper/internal/deals"
	"keeper/internal/keepa"
	"keeper/internal/search"
	"keeper/internal/store"
	"keeper/internal/stream"
	"keeper/pkg/types"
)

// shutdownDeadline bounds how long Stop waits for tasks to drain.
const shutdownDeadline = 30 * time.Second

// reportEveryCycles: deal reports run every 4th price-check cycle, once
// per day at the default 6-hour interval.
const reportEveryCycles = 4

// Engine owns every component and the goroutines running them.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	client     *keepa.Client
	searcher   *search.Writer
	dispatcher *alerts.Dispatcher
	pipeline   *deals.Pipeline
	reportCh   alerts.Channel

	// Best-effort sinks, established during startup and re-attempted
	// lazily per cycle after an outage.
	mu        sync.Mutex
	producer  *stream.Producer
	searchUp  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all components. Persistence must be reachable; the event log
// and search index may come up later.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	searcher, err := search.NewWriter(cfg.SearchURL, cfg.PriceIndex,
		cfg.DealIndex, cfg.MetricsIndex, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build search writer: %w", err)
	}

	bucket := keepa.NewTokenBucket(cfg.TokensPerMinute, cfg.TokensCapacity)
	client := keepa.NewClient(cfg.APIKey, bucket, cfg.RequestTimeout, logger,
		keepa.WithMetrics(searcher))

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		store:    st,
		client:   client,
		searcher: searcher,
	}

	emailCh := &alerts.EmailChannel{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPassword,
		From: cfg.SMTPFrom,
	}
	e.reportCh = emailCh
	e.dispatcher = alerts.NewDispatcher(st, []alerts.Channel{
		emailCh,
		alerts.NewMessagingChannel(cfg.MessagingBotToken, ""),
		alerts.NewWebhookChannel(),
	}, logger)

	seeds := deals.NewSeedSource(cfg.DealTargetsFile, cfg.DealSeedFile,
		cfg.DealSeedASINs, logger)
	e.pipeline = deals.New(client, st, e, e, seeds, deals.Config{
		Mode:         cfg.DealSourceMode,
		ScanInterval: cfg.DealScanInterval,
		BatchSize:    cfg.DealScanBatchSize,
	}, logger)

	return e, nil
}

// Start runs the startup sequence and launches the background tasks. The
// order is load-bearing: store and backfill first, producers before
// consumers, the search index before the collector.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	// 1. Persistence: system user and schema are required.
	if err := e.store.GetOrCreateSystemUser(ctx); err != nil {
		return err
	}

	// 2. One-shot idempotent history backfill.
	if _, err := e.store.BackfillPriceHistoryFromDeals(ctx); err != nil {
		e.logger.Warn("history backfill failed", "err", err)
	}

	// 3. Event-log producer; broker must ACK before consumers start.
	// Failure disables the sink until a later cycle reconnects.
	if err := e.ensureProducer(ctx); err != nil {
		e.logger.Warn("event log unavailable at startup", "err", err)
	}

	// 4. Search index with declared mappings.
	if err := e.ensureSearch(ctx); err != nil {
		e.logger.Warn("search index unavailable at startup", "err", err)
	}

	// 5. Consumer cohorts.
	e.startConsumers(ctx)

	// 6. Deal collector.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pipeline.Run(ctx)
	}()

	// 7. Alert dispatcher and the main loop.
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.dispatcher.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.runMainLoop(ctx)
	}()

	e.logger.Info("engine started",
		"price_check_interval", e.cfg.PriceCheckInterval,
		"deal_scan_interval", e.cfg.DealScanInterval)
	return nil
}

// startConsumers launches both cohorts; a failed join is logged and that
// cohort stays down until restart.
func (e *Engine) startConsumers(ctx context.Context) {
	cohorts := []struct {
		topic   string
		group   string
		handler stream.Handler
	}{
		{e.cfg.PriceTopic, e.cfg.ConsumerGroup, stream.PriceHandler(e.store, e.logger)},
		{e.cfg.DealTopic, e.cfg.DealConsumerGroup(), stream.DealHandler(e.store, e.logger)},
	}
	for _, c := range cohorts {
		consumer, err := stream.NewConsumer(e.cfg.Brokers, c.topic, c.group, c.handler, e.logger)
		if err != nil {
			e.logger.Error("consumer start failed", "group", c.group, "err", err)
			continue
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			consumer.Run(ctx)
		}()
	}
}

// Stop shuts the engine down in reverse startup order: cancellation stops
// consumers, the collector, the dispatcher and the main loop together;
// then the producer and store close once the tasks drain.
func (e *Engine) Stop() {
	e.logger.Info("engine stopping")
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		e.logger.Warn("shutdown deadline exceeded, abandoning tasks")
	}

	e.mu.Lock()
	if e.producer != nil {
		e.producer.Close()
		e.producer = nil
	}
	e.mu.Unlock()

	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "err", err)
	}
	e.logger.Info("engine stopped")
}

// ensureProducer connects the event-log producer if it is down.
func (e *Engine) ensureProducer(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.producer != nil {
		return nil
	}
	p, err := stream.NewProducer(e.cfg.Brokers, e.cfg.PriceTopic, e.cfg.DealTopic, e.logger)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return err
	}
	e.producer = p
	e.logger.Info("event log connected", "brokers", e.cfg.Brokers)
	return nil
}

// ensureSearch connects the search index if it is down.
func (e *Engine) ensureSearch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.searchUp {
		return nil
	}
	if err := e.searcher.Connect(ctx); err != nil {
		return err
	}
	e.searchUp = true
	e.logger.Info("search index connected", "url", e.cfg.SearchURL)
	return nil
}

// ensureConnections re-attempts both best-effort sinks; called once per
// main-loop cycle so an outage heals without a restart.
func (e *Engine) ensureConnections(ctx context.Context) {
	if err := e.ensureProducer(ctx); err != nil {
		e.logger.Warn("event log still unavailable", "err", err)
	}
	if err := e.ensureSearch(ctx); err != nil {
		e.logger.Warn("search index still unavailable", "err", err)
	}
}

// PublishDealEvent implements deals.EventSink with the lazily connected
// producer.
func (e *Engine) PublishDealEvent(ctx context.Context, ev types.DealEvent) error {
	e.mu.Lock()
	p := e.producer
	e.mu.Unlock()
	if p == nil {
		return fmt.Errorf("event log not connected")
	}
	return p.PublishDealEvent(ctx, ev)
}

// IndexDeal implements deals.SearchSink.
func (e *Engine) IndexDeal(ctx context.Context, d types.Deal) error {
	if !e.searchReady() {
		return fmt.Errorf("search index not connected")
	}
	return e.searcher.IndexDeal(ctx, d)
}

func (e *Engine) searchReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searchUp
}

// runMainLoop drives the periodic price checks and, every fourth cycle,
// the daily deal reports and the retention pass.
func (e *Engine) runMainLoop(ctx context.Context) {
	cycle := 0
	for {
		e.ensureConnections(ctx)
		e.runPriceCheck(ctx)

		cycle++
		if cycle%reportEveryCycles == 0 {
			e.runDailyDealReports(ctx)
			if e.searchReady() {
				if _, err := e.searcher.DeleteOldDocuments(ctx); err != nil {
					e.logger.Warn("retention pass failed", "err", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			e.logger.Info("main loop stopped")
			return
		case <-time.After(e.cfg.PriceCheckInterval):
		}
	}
}
