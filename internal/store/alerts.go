package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"keeper/pkg/types"
)

// RoundToCent rounds a price to two decimals, the granularity of the alert
// dedup key.
func RoundToCent(price float64) float64 {
	f, _ := decimal.NewFromFloat(price).Round(2).Float64()
	return f
}

// CreatePriceAlert inserts a PENDING alert for a crossed target.
func (s *Store) CreatePriceAlert(ctx context.Context, watchID uuid.UUID, triggered, target, oldPrice, newPrice float64) (uuid.UUID, error) {
	if triggered <= 0 {
		return uuid.Nil, fmt.Errorf("%w: non-positive triggered price", ErrInvalidInput)
	}
	var discount float64
	if oldPrice > newPrice && oldPrice > 0 {
		d := decimal.NewFromFloat((oldPrice - newPrice) / oldPrice * 100)
		discount, _ = d.Round(1).Float64()
	}
	id := uuid.New()
	err := s.withRetry(ctx, "create alert", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO price_alerts
				(id, watch_id, triggered_price, target_price, old_price,
				 new_price, discount_percent, status, triggered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), watchID.String(), triggered, target, oldPrice,
			newPrice, discount, AlertPending, now())
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create alert: %w", err)
	}
	s.logger.Info("price alert created",
		"alert", id, "watch", watchID, "triggered", triggered, "target", target)
	return id, nil
}

// HasRecentAlert reports whether a PENDING or SENT alert exists for the
// watch within the window. Guards consumer-side alert creation.
func (s *Store) HasRecentAlert(ctx context.Context, watchID uuid.UUID, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window).Format(timeLayout)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_alerts
		WHERE watch_id = ? AND status IN (?, ?) AND triggered_at >= ?`,
		watchID.String(), AlertPending, AlertSent, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has recent alert: %w", err)
	}
	return n > 0, nil
}

// RecentSentAlertExists is the authoritative dedup check: a SENT alert on
// the same watch with the same cent-rounded price inside the window.
func (s *Store) RecentSentAlertExists(ctx context.Context, watchID uuid.UUID, price float64, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window).Format(timeLayout)
	rounded := RoundToCent(price)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_alerts
		WHERE watch_id = ? AND status = ?
		  AND ROUND(triggered_price, 2) = ? AND triggered_at >= ?`,
		watchID.String(), AlertSent, rounded, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("recent sent alert: %w", err)
	}
	return n > 0, nil
}

// CountSentAlertsSince counts a user's SENT alerts since the cutoff, for
// the rolling-hour rate cap.
func (s *Store) CountSentAlertsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_alerts a
		JOIN watched_products w ON w.id = a.watch_id
		WHERE w.user_id = ? AND a.status = ? AND a.sent_at >= ?`,
		userID.String(), AlertSent, since.UTC().Format(timeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent alerts: %w", err)
	}
	return n, nil
}

// MarkAlertSent transitions an alert to SENT with the delivering channel.
func (s *Store) MarkAlertSent(ctx context.Context, alertID uuid.UUID, channel string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE price_alerts SET status = ?, channel = ?, sent_at = ?
		WHERE id = ?`, AlertSent, channel, now(), alertID.String())
	if err != nil {
		return fmt.Errorf("mark alert sent: %w", err)
	}
	return nil
}

// MarkAlertFailed transitions an alert to FAILED after all channels were
// exhausted. Terminal; the dispatcher never retries it.
func (s *Store) MarkAlertFailed(ctx context.Context, alertID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE price_alerts SET status = ? WHERE id = ?`,
		AlertFailed, alertID.String())
	if err != nil {
		return fmt.Errorf("mark alert failed: %w", err)
	}
	return nil
}

// PendingAlertsWithContext returns PENDING alerts joined with their watch
// and owning user, oldest first.
func (s *Store) PendingAlertsWithContext(ctx context.Context, limit int) ([]AlertContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.watch_id, a.triggered_price, a.target_price,
		       a.old_price, a.new_price, a.discount_percent, a.status,
		       a.channel, a.triggered_at, a.sent_at,
		       w.user_id, w.asin, w.title, w.current_price, w.target_price,
		       w.domain_id,
		       u.email, u.messaging_address, u.webhook_url, u.primary_channel
		FROM price_alerts a
		JOIN watched_products w ON w.id = a.watch_id
		JOIN users u ON u.id = w.user_id
		WHERE a.status = ? AND u.deleted = 0
		ORDER BY a.triggered_at
		LIMIT ?`, AlertPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pending alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertContext
	for rows.Next() {
		var (
			ac                         AlertContext
			alertID, watchID, userID   string
			triggeredAt, sentAt        sql.NullString
			domainID                   int
		)
		err := rows.Scan(&alertID, &watchID, &ac.Alert.TriggeredPrice,
			&ac.Alert.TargetPrice, &ac.Alert.OldPrice, &ac.Alert.NewPrice,
			&ac.Alert.DiscountPercent, &ac.Alert.Status, &ac.Alert.Channel,
			&triggeredAt, &sentAt,
			&userID, &ac.Watch.ASIN, &ac.Watch.Title,
			&ac.Watch.CurrentPrice, &ac.Watch.TargetPrice, &domainID,
			&ac.User.Email, &ac.User.MessagingAddress, &ac.User.WebhookURL,
			&ac.User.PrimaryChannel)
		if err != nil {
			return nil, fmt.Errorf("scan pending alert: %w", err)
		}
		ac.Alert.ID, _ = uuid.Parse(alertID)
		ac.Alert.WatchID, _ = uuid.Parse(watchID)
		ac.Alert.TriggeredAt = parseTime(triggeredAt)
		ac.Alert.SentAt = parseTime(sentAt)
		ac.Watch.ID = ac.Alert.WatchID
		ac.Watch.UserID, _ = uuid.Parse(userID)
		ac.User.ID = ac.Watch.UserID
		ac.Watch.Domain = types.ParseDomain(domainID)
		out = append(out, ac)
	}
	return out, rows.Err()
}
