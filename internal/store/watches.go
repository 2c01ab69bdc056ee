package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"keeper/internal/keepa"
	"keeper/pkg/types"
)

// priceChangeEpsilon: moves at or under a cent do not count as a change.
const priceChangeEpsilon = 0.01

const watchColumns = `id, user_id, asin, title, current_price, target_price,
	volatility, domain_id, status, last_checked, last_price_change`

func scanWatch(row interface{ Scan(...any) error }) (Watch, error) {
	var (
		w                         Watch
		id, userID                string
		domainID                  int
		lastChecked, lastChanged  sql.NullString
	)
	err := row.Scan(&id, &userID, &w.ASIN, &w.Title, &w.CurrentPrice,
		&w.TargetPrice, &w.Volatility, &domainID, &w.Status,
		&lastChecked, &lastChanged)
	if err != nil {
		return Watch{}, err
	}
	w.ID, _ = uuid.Parse(id)
	w.UserID, _ = uuid.Parse(userID)
	w.Domain = types.ParseDomain(domainID)
	w.LastChecked = parseTime(lastChecked)
	w.LastPriceChange = parseTime(lastChanged)
	return w, nil
}

// GetActiveWatches returns every ACTIVE watch across all users.
func (s *Store) GetActiveWatches(ctx context.Context) ([]Watch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+watchColumns+` FROM watched_products
		WHERE status = ? ORDER BY created_at`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("get active watches: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// GetUserWatches returns a user's non-deleted watches.
func (s *Store) GetUserWatches(ctx context.Context, userID uuid.UUID) ([]Watch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+watchColumns+` FROM watched_products
		WHERE user_id = ? AND status != ? ORDER BY created_at`,
		userID.String(), StatusInactive)
	if err != nil {
		return nil, fmt.Errorf("get user watches: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// WatchesForASIN returns active watches on a product code across all users,
// used by the deal fan-out to find crossed targets.
func (s *Store) WatchesForASIN(ctx context.Context, asin string) ([]Watch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+watchColumns+` FROM watched_products
		WHERE asin = ? AND status = ?`, asin, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("watches for asin: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// GetWatch returns one watch by id.
func (s *Store) GetWatch(ctx context.Context, watchID uuid.UUID) (Watch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+watchColumns+` FROM watched_products WHERE id = ?`,
		watchID.String())
	w, err := scanWatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Watch{}, fmt.Errorf("watch %s: %w", watchID, ErrNotFound)
	}
	if err != nil {
		return Watch{}, fmt.Errorf("get watch: %w", err)
	}
	return w, nil
}

// CreateWatch inserts a new watch for the user.
func (s *Store) CreateWatch(ctx context.Context, userID uuid.UUID, asin, title string, targetPrice float64, domain types.Domain) (Watch, error) {
	if !keepa.ValidASIN(asin) {
		return Watch{}, fmt.Errorf("%w: asin %q must be 10 alphanumeric characters", ErrInvalidInput, asin)
	}
	if targetPrice <= 0 {
		return Watch{}, fmt.Errorf("%w: target price must be positive", ErrInvalidInput)
	}
	id := uuid.New()
	err := s.withRetry(ctx, "create watch", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO watched_products
				(id, user_id, asin, title, target_price, domain_id, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), userID.String(), asin, title, targetPrice,
			int(domain), StatusActive, now())
		return err
	})
	if err != nil {
		return Watch{}, fmt.Errorf("create watch: %w", err)
	}
	return s.GetWatch(ctx, id)
}

// SoftDeleteWatch marks a watch INACTIVE. Rows are never hard-deleted.
func (s *Store) SoftDeleteWatch(ctx context.Context, watchID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watched_products SET status = ? WHERE id = ?`,
		StatusInactive, watchID.String())
	if err != nil {
		return fmt.Errorf("soft delete watch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("watch %s: %w", watchID, ErrNotFound)
	}
	return nil
}

// UpdateWatchPrice atomically updates the watch's current price and stamps,
// inserting a history row in the same transaction. last_price_change only
// advances when the price actually moved. Returns the updated watch.
func (s *Store) UpdateWatchPrice(ctx context.Context, watchID uuid.UUID, price float64, source string) (Watch, error) {
	if price < 0 {
		return Watch{}, fmt.Errorf("%w: negative price %.2f", ErrInvalidInput, price)
	}
	var updated Watch
	err := s.withRetry(ctx, "update watch price", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `
			SELECT `+watchColumns+` FROM watched_products WHERE id = ?`,
			watchID.String())
		w, err := scanWatch(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("watch %s: %w", watchID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		ts := now()
		changed := math.Abs(w.CurrentPrice-price) > priceChangeEpsilon
		if changed {
			_, err = tx.ExecContext(ctx, `
				UPDATE watched_products
				SET current_price = ?, last_checked = ?, last_price_change = ?
				WHERE id = ?`, price, ts, ts, watchID.String())
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE watched_products
				SET current_price = ?, last_checked = ?
				WHERE id = ?`, price, ts, watchID.String())
		}
		if err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO price_history (watch_id, price, source, recorded_at)
			VALUES (?, ?, ?, ?)`,
			watchID.String(), price, nullIfEmpty(source), ts); err != nil {
			return err
		}

		if err = tx.Commit(); err != nil {
			return err
		}
		w.CurrentPrice = price
		updated = w
		return nil
	})
	if err != nil {
		return Watch{}, fmt.Errorf("update watch price: %w", err)
	}
	return updated, nil
}

// StampLastChecked records that a check happened even when no usable price
// came back.
func (s *Store) StampLastChecked(ctx context.Context, watchID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE watched_products SET last_checked = ? WHERE id = ?`,
		now(), watchID.String())
	if err != nil {
		return fmt.Errorf("stamp last checked: %w", err)
	}
	return nil
}

// EnsureTrackedProduct finds or creates a system-user watch on the product.
// Idempotent: repeated calls return the same watch id.
func (s *Store) EnsureTrackedProduct(ctx context.Context, asin, title string, currentPrice float64) (uuid.UUID, error) {
	if !keepa.ValidASIN(asin) {
		return uuid.Nil, fmt.Errorf("%w: asin %q must be 10 alphanumeric characters", ErrInvalidInput, asin)
	}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM watched_products WHERE user_id = ? AND asin = ?`,
		SystemUserID.String(), asin).Scan(&idStr)
	if err == nil {
		id, _ := uuid.Parse(idStr)
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("ensure tracked product: %w", err)
	}

	id := uuid.New()
	err = s.withRetry(ctx, "ensure tracked product", func() error {
		// INSERT OR IGNORE so a concurrent creator wins cleanly.
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO watched_products
				(id, user_id, asin, title, current_price, target_price, status, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			id.String(), SystemUserID.String(), asin, title, currentPrice,
			StatusActive, now())
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure tracked product: %w", err)
	}
	// Re-read in case the ignore path fired.
	if err := s.db.QueryRowContext(ctx, `
		SELECT id FROM watched_products WHERE user_id = ? AND asin = ?`,
		SystemUserID.String(), asin).Scan(&idStr); err != nil {
		return uuid.Nil, fmt.Errorf("ensure tracked product: %w", err)
	}
	id, _ = uuid.Parse(idStr)
	return id, nil
}

// RecordDealPrice ensures the product is tracked and records the observed
// price in one step. Used by the deal consumer and the backfill job.
func (s *Store) RecordDealPrice(ctx context.Context, asin string, price float64, title, source string) error {
	if price <= 0 {
		return fmt.Errorf("%w: non-positive price %.2f", ErrInvalidInput, price)
	}
	watchID, err := s.EnsureTrackedProduct(ctx, asin, title, price)
	if err != nil {
		return err
	}
	_, err = s.UpdateWatchPrice(ctx, watchID, price, source)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
