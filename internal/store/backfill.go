package store

import (
	"context"
	"fmt"
)

// BackfillPriceHistoryFromDeals seeds price history for system-tracked
// products from previously collected deals. Runs once at startup and is
// idempotent: products whose watch already has history rows are skipped,
// so a second run inserts nothing.
func (s *Store) BackfillPriceHistoryFromDeals(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT asin FROM collected_deals WHERE current_price > 0`)
	if err != nil {
		return 0, fmt.Errorf("backfill: list deal asins: %w", err)
	}
	var asins []string
	for rows.Next() {
		var asin string
		if err := rows.Scan(&asin); err != nil {
			rows.Close()
			return 0, fmt.Errorf("backfill: scan asin: %w", err)
		}
		asins = append(asins, asin)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("backfill: %w", err)
	}

	total := 0
	for _, asin := range asins {
		n, err := s.backfillASIN(ctx, asin)
		if err != nil {
			// Per-item failures never abort the batch.
			s.logger.Warn("backfill failed for product", "asin", asin, "err", err)
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("price history backfilled", "rows", total, "products", len(asins))
	}
	return total, nil
}

func (s *Store) backfillASIN(ctx context.Context, asin string) (int, error) {
	var title string
	var price float64
	if err := s.db.QueryRowContext(ctx, `
		SELECT title, current_price FROM collected_deals
		WHERE asin = ? ORDER BY collected_at DESC LIMIT 1`,
		asin).Scan(&title, &price); err != nil {
		return 0, err
	}

	watchID, err := s.EnsureTrackedProduct(ctx, asin, title, price)
	if err != nil {
		return 0, err
	}

	var existing int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_history WHERE watch_id = ?`,
		watchID.String()).Scan(&existing); err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (watch_id, price, source, recorded_at)
		SELECT ?, current_price, 'backfill', collected_at
		FROM collected_deals
		WHERE asin = ? AND current_price > 0
		ORDER BY collected_at`, watchID.String(), asin)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
