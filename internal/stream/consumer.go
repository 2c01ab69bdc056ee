package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"keeper/internal/store"
	"keeper/pkg/types"
)

// errorBackoff is the pause after a fetch error before polling again.
const errorBackoff = 5 * time.Second

// alertGuardWindow suppresses a second alert on the same watch within an
// hour of the previous one.
const alertGuardWindow = time.Hour

// Handler processes one decoded record. Errors are logged and the record is
// skipped; at-least-once delivery with idempotent writes makes that safe.
type Handler func(ctx context.Context, key, value []byte) error

// Consumer runs one consumer group over one topic.
type Consumer struct {
	client  *kgo.Client
	topic   string
	group   string
	handler Handler
	logger  *slog.Logger
}

// NewConsumer joins the group at the earliest offset with periodic
// auto-commit.
func NewConsumer(brokers []string, topic, group string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", group, err)
	}
	return &Consumer{
		client:  client,
		topic:   topic,
		group:   group,
		handler: handler,
		logger:  logger.With("component", "consumer", "group", group),
	}, nil
}

// Run polls until ctx is canceled. The in-flight record finishes before the
// loop exits; fetch errors back off 5 s without abandoning the cursor.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("consumer started", "topic", c.topic)
	defer c.client.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					continue
				}
				c.logger.Warn("fetch error, backing off",
					"topic", fe.Topic, "partition", fe.Partition, "err", fe.Err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			if err := c.handler(ctx, rec.Key, rec.Value); err != nil {
				c.logger.Error("record handling failed",
					"topic", rec.Topic, "offset", rec.Offset, "err", err)
			}
		})
	}
}

// PriceHandler processes price-updates: append history for each tracked
// watch on the product and raise an alert when the target is crossed and
// no alert fired within the guard window.
func PriceHandler(st *store.Store, logger *slog.Logger) Handler {
	log := logger.With("component", "price-consumer")
	return func(ctx context.Context, key, value []byte) error {
		var ev types.PriceEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("decode price event: %w", err)
		}
		if ev.ASIN == "" || ev.CurrentPrice <= 0 {
			return nil
		}

		watches, err := st.WatchesForASIN(ctx, ev.ASIN)
		if err != nil {
			return err
		}
		if len(watches) == 0 {
			// Not a tracked product; nothing to do.
			return nil
		}

		for _, w := range watches {
			if _, err := st.UpdateWatchPrice(ctx, w.ID, ev.CurrentPrice, "kafka"); err != nil {
				log.Error("history append failed", "watch", w.ID, "err", err)
				continue
			}
			if !store.TargetCrossed(ev.CurrentPrice, w.TargetPrice) {
				continue
			}
			recent, err := st.HasRecentAlert(ctx, w.ID, alertGuardWindow)
			if err != nil {
				log.Error("alert guard check failed", "watch", w.ID, "err", err)
				continue
			}
			if recent {
				continue
			}
			if _, err := st.CreatePriceAlert(ctx, w.ID, ev.CurrentPrice,
				w.TargetPrice, w.CurrentPrice, ev.CurrentPrice); err != nil {
				log.Error("alert creation failed", "watch", w.ID, "err", err)
			}
		}
		return nil
	}
}

// DealHandler processes deal-updates: auto-track the product under the
// system user and record the observed price.
func DealHandler(st *store.Store, logger *slog.Logger) Handler {
	log := logger.With("component", "deal-consumer")
	return func(ctx context.Context, key, value []byte) error {
		var ev types.DealEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("decode deal event: %w", err)
		}
		if ev.ASIN == "" || ev.CurrentPrice <= 0 {
			return nil
		}
		if err := st.RecordDealPrice(ctx, ev.ASIN, ev.CurrentPrice, ev.ProductTitle, "kafka_deals"); err != nil {
			log.Error("deal price record failed", "asin", ev.ASIN, "err", err)
		}
		return nil
	}
}
