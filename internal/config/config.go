// Package config loads and validates runtime configuration.
//
// Configuration comes from an optional YAML file plus KEEPER_* environment
// variable overrides. Every option has a sensible default so the binary can
// start against local infrastructure with only the API key set.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the keeper pipeline.
type Config struct {
	// Upstream price API.
	APIKey           string
	TokensPerMinute  int
	TokensCapacity   int
	RequestTimeout   time.Duration

	// Persistence.
	DatabaseURL string

	// Event log.
	Brokers         []string
	PriceTopic      string
	DealTopic       string
	ConsumerGroup   string
	DealGroupSuffix string

	// Search index.
	SearchURL    string
	PriceIndex   string
	DealIndex    string
	MetricsIndex string

	// Deal collector.
	DealSourceMode       string
	DealSeedFile         string
	DealTargetsFile      string
	DealSeedASINs        []string
	DealScanInterval     time.Duration
	DealScanBatchSize    int

	// Price monitor.
	PriceCheckInterval time.Duration
	ParallelPriceFetch int

	// Alert transports.
	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	SMTPFrom          string
	MessagingBotToken string

	// Logging.
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the given YAML file (empty path means
// defaults + environment only) and applies KEEPER_* overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_key", "")
	v.SetDefault("tokens_per_minute", 20)
	v.SetDefault("tokens_capacity", 200)
	v.SetDefault("request_timeout_seconds", 30)

	v.SetDefault("database_url", "file:keeper.db")

	v.SetDefault("event_log_brokers", "localhost:9092")
	v.SetDefault("price_topic", "price-updates")
	v.SetDefault("deal_topic", "deal-updates")
	v.SetDefault("consumer_group", "keeper-consumer-group")
	v.SetDefault("deal_group_suffix", "-deals")

	v.SetDefault("search_index_url", "http://localhost:9200")
	v.SetDefault("price_index", "keeper-prices")
	v.SetDefault("deal_index", "keeper-deals")
	v.SetDefault("metrics_index", "keeper-metrics")

	v.SetDefault("deal_source_mode", "product_only")
	v.SetDefault("deal_seed_file", "data/seed_asins_eu_qwertz.txt")
	v.SetDefault("deal_targets_file", "")
	v.SetDefault("deal_seed_asins", "")
	v.SetDefault("deal_scan_interval_seconds", 3600)
	v.SetDefault("deal_scan_batch_size", 10)

	v.SetDefault("price_check_interval_seconds", 21600)
	v.SetDefault("parallel_price_fetch", 5)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "alerts@keeper.app")
	v.SetDefault("messaging_bot_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		APIKey:          v.GetString("api_key"),
		TokensPerMinute: v.GetInt("tokens_per_minute"),
		TokensCapacity:  v.GetInt("tokens_capacity"),
		RequestTimeout:  time.Duration(v.GetInt("request_timeout_seconds")) * time.Second,

		DatabaseURL: v.GetString("database_url"),

		Brokers:         splitList(v.GetString("event_log_brokers")),
		PriceTopic:      v.GetString("price_topic"),
		DealTopic:       v.GetString("deal_topic"),
		ConsumerGroup:   v.GetString("consumer_group"),
		DealGroupSuffix: v.GetString("deal_group_suffix"),

		SearchURL:    v.GetString("search_index_url"),
		PriceIndex:   v.GetString("price_index"),
		DealIndex:    v.GetString("deal_index"),
		MetricsIndex: v.GetString("metrics_index"),

		DealSourceMode:    v.GetString("deal_source_mode"),
		DealSeedFile:      v.GetString("deal_seed_file"),
		DealTargetsFile:   v.GetString("deal_targets_file"),
		DealSeedASINs:     splitList(v.GetString("deal_seed_asins")),
		DealScanInterval:  time.Duration(v.GetInt("deal_scan_interval_seconds")) * time.Second,
		DealScanBatchSize: v.GetInt("deal_scan_batch_size"),

		PriceCheckInterval: time.Duration(v.GetInt("price_check_interval_seconds")) * time.Second,
		ParallelPriceFetch: v.GetInt("parallel_price_fetch"),

		SMTPHost:          v.GetString("smtp.host"),
		SMTPPort:          v.GetInt("smtp.port"),
		SMTPUser:          v.GetString("smtp.user"),
		SMTPPassword:      v.GetString("smtp.password"),
		SMTPFrom:          v.GetString("smtp.from"),
		MessagingBotToken: v.GetString("messaging_bot_token"),

		LogLevel:  v.GetString("logging.level"),
		LogFormat: v.GetString("logging.format"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("event_log_brokers is required")
	}
	if c.SearchURL == "" {
		return fmt.Errorf("search_index_url is required")
	}
	if c.TokensPerMinute <= 0 {
		return fmt.Errorf("tokens_per_minute must be positive, got %d", c.TokensPerMinute)
	}
	if c.TokensCapacity < c.TokensPerMinute {
		return fmt.Errorf("tokens_capacity %d below tokens_per_minute %d", c.TokensCapacity, c.TokensPerMinute)
	}
	switch c.DealSourceMode {
	case "deals", "product_only":
	default:
		return fmt.Errorf("deal_source_mode must be deals or product_only, got %q", c.DealSourceMode)
	}
	if c.DealScanBatchSize <= 0 {
		return fmt.Errorf("deal_scan_batch_size must be positive, got %d", c.DealScanBatchSize)
	}
	if c.ParallelPriceFetch <= 0 {
		return fmt.Errorf("parallel_price_fetch must be positive, got %d", c.ParallelPriceFetch)
	}
	if c.PriceCheckInterval < time.Minute {
		return fmt.Errorf("price_check_interval_seconds must be at least 60")
	}
	if c.DealScanInterval < time.Minute {
		return fmt.Errorf("deal_scan_interval_seconds must be at least 60")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

// DealConsumerGroup derives the deal-topic group id from the price group.
func (c *Config) DealConsumerGroup() string {
	return c.ConsumerGroup + c.DealGroupSuffix
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
