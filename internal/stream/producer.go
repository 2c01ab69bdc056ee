package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"keeper/pkg/types"
)

// Producer publishes to both topics with blocking, acknowledged sends.
// The relational store stays the source of truth: callers log publish
// failures and continue.
type Producer struct {
	client     *kgo.Client
	priceTopic string
	dealTopic  string
	logger     *slog.Logger
}

// NewProducer connects a producer to the brokers. Topics are auto-created
// with broker defaults on first produce.
func NewProducer(brokers []string, priceTopic, dealTopic string, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return &Producer{
		client:     client,
		priceTopic: priceTopic,
		dealTopic:  dealTopic,
		logger:     logger.With("component", "producer"),
	}, nil
}

// Ping verifies broker reachability; run during startup before consumers.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}

// PublishPriceEvent sends to price-updates keyed by ASIN and waits for the
// broker acknowledgement.
func (p *Producer) PublishPriceEvent(ctx context.Context, ev types.PriceEvent) error {
	return p.publish(ctx, p.priceTopic, ev.ASIN, ev)
}

// PublishDealEvent sends to deal-updates keyed by ASIN.
func (p *Producer) PublishDealEvent(ctx context.Context, ev types.DealEvent) error {
	return p.publish(ctx, p.dealTopic, ev.ASIN, ev)
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	p.logger.Debug("event published", "topic", topic, "key", key)
	return nil
}

// Close flushes outstanding records and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}
