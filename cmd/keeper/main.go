// Keeper — an Amazon price monitor and deal collector for the EU
// marketplaces, built on the Keepa API.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires store → client → streams → collector → alerts
//	engine/pricecheck.go — periodic sweep over active watches with bounded concurrency
//	engine/reports.go    — daily per-filter deal reports delivered over mail
//	keepa/client.go      — rate-limited Keepa client: packed-price extraction, retry taxonomy
//	keepa/ratelimit.go   — shared token bucket synced from upstream token accounting
//	deals/pipeline.go    — deal collector: seeds, normalization, scoring, spam/keyboard filters
//	stream/producer.go   — Kafka producers for price and deal events, keyed by ASIN
//	stream/consumer.go   — consumer cohorts feeding watches and collected deals back into SQLite
//	search/indexer.go    — Elasticsearch writer: prices, deals, token telemetry, retention
//	alerts/dispatcher.go — alert delivery: dedup window, rate cap, digests, channel fallback
//	store/store.go       — SQLite persistence for users, watches, history, alerts, deals
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"keeper/internal/config"
	"keeper/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("KEEPER_CONFIG"); p != "" {
		cfgPath = p
	}
	if _, err := os.Stat(cfgPath); err != nil && os.Getenv("KEEPER_CONFIG") == "" {
		// No config file is fine; defaults plus KEEPER_* env vars apply.
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("keeper started",
		"mode", cfg.DealSourceMode,
		"tokens_per_minute", cfg.TokensPerMinute,
		"parallel_fetch", cfg.ParallelPriceFetch,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
