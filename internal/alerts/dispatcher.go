// Package alerts delivers PENDING price alerts to users. The dispatcher
// enforces the duplicate window and per-user rate cap, walks the channel
// order with per-channel retries, and drives every alert to a terminal
// SENT or FAILED state.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"keeper/internal/store"
)

const (
	// pollInterval is how often the dispatcher looks for PENDING alerts.
	pollInterval = 30 * time.Second

	// dedupWindow suppresses a second identical (watch, rounded price)
	// delivery.
	dedupWindow = time.Hour

	// maxAlertsPerHour is the per-user delivery cap; excess alerts are
	// digested at the next hour boundary.
	maxAlertsPerHour = 10

	// pollBatch bounds how many pending alerts one pass loads.
	pollBatch = 100
)

// retryOffsets are the per-channel attempt delays.
var retryOffsets = []time.Duration{0, 30 * time.Second, 120 * time.Second}

// dedupKey identifies an alert for duplicate suppression.
type dedupKey struct {
	watch uuid.UUID
	price float64 // rounded to cent
}

// pendingDigest accumulates alerts held back by the rate cap for one user.
type pendingDigest struct {
	alerts []store.AlertContext
	due    time.Time
}

// Dispatcher is the alert delivery engine. One instance runs as a
// background task; the dedup cache and digest queue are owned by it alone.
type Dispatcher struct {
	store    *store.Store
	channels []Channel
	logger   *slog.Logger

	dedup   map[dedupKey]time.Time
	digests map[uuid.UUID]*pendingDigest
	now     func() time.Time // test seam
}

// NewDispatcher builds a dispatcher over the configured channels. The
// slice order is the fallback order after the user's primary channel.
func NewDispatcher(st *store.Store, channels []Channel, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		channels: channels,
		logger:   logger.With("component", "alerts"),
		dedup:    make(map[dedupKey]time.Time),
		digests:  make(map[uuid.UUID]*pendingDigest),
		now:      time.Now,
	}
}

// Run polls for PENDING alerts until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("alert dispatcher started")
	for {
		d.DispatchPending(ctx)
		d.flushDigests(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("alert dispatcher stopped")
			return
		case <-time.After(pollInterval):
		}
	}
}

// DispatchPending processes one batch of PENDING alerts.
func (d *Dispatcher) DispatchPending(ctx context.Context) {
	pending, err := d.store.PendingAlertsWithContext(ctx, pollBatch)
	if err != nil {
		d.logger.Error("pending alert load failed", "err", err)
		return
	}
	for _, ac := range pending {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, ac)
	}
}

// dispatch drives one alert to a terminal state, or queues it for digest.
func (d *Dispatcher) dispatch(ctx context.Context, ac store.AlertContext) {
	dup, err := d.isDuplicate(ctx, ac)
	if err != nil {
		d.logger.Error("duplicate check failed", "alert", ac.Alert.ID, "err", err)
		return // stays PENDING; next pass retries the check
	}
	if dup {
		d.logger.Info("duplicate blocked",
			"alert", ac.Alert.ID, "watch", ac.Alert.WatchID,
			"price", store.RoundToCent(ac.Alert.TriggeredPrice))
		if err := d.store.MarkAlertFailed(ctx, ac.Alert.ID); err != nil {
			d.logger.Error("alert state update failed", "alert", ac.Alert.ID, "err", err)
		}
		return
	}

	capped, err := d.overRateCap(ctx, ac.User.ID)
	if err != nil {
		d.logger.Error("rate cap check failed", "user", ac.User.ID, "err", err)
		return
	}
	if capped {
		d.queueForDigest(ac)
		return
	}

	d.deliver(ctx, ac)
}

// isDuplicate consults the in-memory cache first, then the persisted SENT
// alerts as the authoritative record.
func (d *Dispatcher) isDuplicate(ctx context.Context, ac store.AlertContext) (bool, error) {
	key := dedupKey{ac.Alert.WatchID, store.RoundToCent(ac.Alert.TriggeredPrice)}
	if at, ok := d.dedup[key]; ok && d.now().Sub(at) < dedupWindow {
		return true, nil
	}
	return d.store.RecentSentAlertExists(ctx, ac.Alert.WatchID,
		ac.Alert.TriggeredPrice, dedupWindow)
}

func (d *Dispatcher) overRateCap(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := d.store.CountSentAlertsSince(ctx, userID, d.now().Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return n >= maxAlertsPerHour, nil
}

// queueForDigest holds an alert until the next hour boundary.
func (d *Dispatcher) queueForDigest(ac store.AlertContext) {
	dg := d.digests[ac.User.ID]
	if dg == nil {
		dg = &pendingDigest{due: d.now().Truncate(time.Hour).Add(time.Hour)}
		d.digests[ac.User.ID] = dg
	}
	dg.alerts = append(dg.alerts, ac)
	d.logger.Info("alert queued for digest",
		"alert", ac.Alert.ID, "user", ac.User.ID, "due", dg.due)
}

// flushDigests delivers due digests as one summary message per user.
func (d *Dispatcher) flushDigests(ctx context.Context) {
	for userID, dg := range d.digests {
		if d.now().Before(dg.due) || len(dg.alerts) == 0 {
			continue
		}
		delete(d.digests, userID)

		user := dg.alerts[0].User
		sent := false
		for _, ch := range d.channelOrder(user) {
			if !ch.Configured(user) {
				continue
			}
			msg := FormatDigest(dg.alerts, ch.Name())
			if err := d.sendWithRetries(ctx, ch, user, msg); err != nil {
				d.logger.Warn("digest delivery failed",
					"user", userID, "channel", ch.Name(), "err", err)
				continue
			}
			sent = true
			for _, ac := range dg.alerts {
				d.markSent(ctx, ac, "digest")
			}
			d.logger.Info("digest delivered",
				"user", userID, "alerts", len(dg.alerts), "channel", ch.Name())
			break
		}
		if !sent {
			for _, ac := range dg.alerts {
				if err := d.store.MarkAlertFailed(ctx, ac.Alert.ID); err != nil {
					d.logger.Error("alert state update failed", "alert", ac.Alert.ID, "err", err)
				}
			}
		}
	}
}

// deliver walks the channel order; the first successful channel wins.
func (d *Dispatcher) deliver(ctx context.Context, ac store.AlertContext) {
	for _, ch := range d.channelOrder(ac.User) {
		if !ch.Configured(ac.User) {
			continue
		}
		msg := FormatAlert(ac, ch.Name())
		if err := d.sendWithRetries(ctx, ch, ac.User, msg); err != nil {
			d.logger.Warn("channel delivery failed, falling through",
				"alert", ac.Alert.ID, "channel", ch.Name(), "err", err)
			continue
		}
		d.markSent(ctx, ac, ch.Name())
		d.logger.Info("alert delivered",
			"alert", ac.Alert.ID, "channel", ch.Name(), "user", ac.User.ID)
		return
	}

	if err := d.store.MarkAlertFailed(ctx, ac.Alert.ID); err != nil {
		d.logger.Error("alert state update failed", "alert", ac.Alert.ID, "err", err)
	}
	d.logger.Warn("alert failed on every channel", "alert", ac.Alert.ID)
}

// sendWithRetries attempts one channel on the retry schedule, observing
// shutdown between attempts.
func (d *Dispatcher) sendWithRetries(ctx context.Context, ch Channel, u store.User, msg Message) error {
	var lastErr error
	for attempt, offset := range retryOffsets {
		if offset > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(offset):
			}
		}
		if lastErr = ch.Send(ctx, u, msg); lastErr == nil {
			return nil
		}
		d.logger.Debug("send attempt failed",
			"channel", ch.Name(), "attempt", attempt+1, "err", lastErr)
	}
	return lastErr
}

// channelOrder puts the user's primary channel first, then the default
// fallback order, without duplicates.
func (d *Dispatcher) channelOrder(u store.User) []Channel {
	out := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		if ch.Name() == u.PrimaryChannel {
			out = append(out, ch)
		}
	}
	for _, ch := range d.channels {
		if ch.Name() != u.PrimaryChannel {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) markSent(ctx context.Context, ac store.AlertContext, channel string) {
	if err := d.store.MarkAlertSent(ctx, ac.Alert.ID, channel); err != nil {
		d.logger.Error("alert state update failed", "alert", ac.Alert.ID, "err", err)
		return
	}
	key := dedupKey{ac.Alert.WatchID, store.RoundToCent(ac.Alert.TriggeredPrice)}
	d.dedup[key] = d.now()
}
