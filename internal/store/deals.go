package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keeper/pkg/types"
)

// SaveCollectedDealsBatch bulk-inserts deal snapshots in one transaction
// and returns the inserted count. Deals without a positive price are
// skipped, not failed.
func (s *Store) SaveCollectedDealsBatch(ctx context.Context, deals []types.Deal) (int, error) {
	if len(deals) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.withRetry(ctx, "save deals batch", func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO collected_deals
				(asin, title, current_price, original_price, discount_percent,
				 rating, review_count, sales_rank, domain_id, market, category,
				 layout, deal_score, url, prime_eligible, source, collected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ts := now()
		for _, d := range deals {
			if d.CurrentPrice <= 0 {
				continue
			}
			if _, err := stmt.ExecContext(ctx,
				d.ASIN, d.Title, d.CurrentPrice, d.ListPrice,
				d.DiscountPercent, d.Rating, d.ReviewCount, d.SalesRank,
				int(d.Domain), d.Market, d.Category, d.Layout, d.DealScore,
				d.URL, boolInt(d.PrimeEligible), d.Source, ts); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("save deals batch: %w", err)
	}
	return inserted, nil
}

// LatestDealPrice returns the most recent collected price for a product, or
// ErrNotFound. Used as the fallback when a product query yields no price.
func (s *Store) LatestDealPrice(ctx context.Context, asin string) (float64, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `
		SELECT current_price FROM collected_deals
		WHERE asin = ? AND current_price > 0
		ORDER BY collected_at DESC LIMIT 1`, asin).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no collected price for %s: %w", asin, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("latest deal price: %w", err)
	}
	return price, nil
}

// BestDeals returns the highest-scoring deals collected within the window.
func (s *Store) BestDeals(ctx context.Context, window time.Duration, limit int) ([]types.Deal, error) {
	cutoff := time.Now().UTC().Add(-window).Format(timeLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT asin, title, current_price, original_price, discount_percent,
		       rating, review_count, sales_rank, domain_id, market, category,
		       layout, deal_score, url, prime_eligible, source
		FROM collected_deals
		WHERE collected_at >= ?
		ORDER BY deal_score DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("best deals: %w", err)
	}
	defer rows.Close()

	var out []types.Deal
	for rows.Next() {
		var (
			d        types.Deal
			domainID int
			prime    int
		)
		if err := rows.Scan(&d.ASIN, &d.Title, &d.CurrentPrice, &d.ListPrice,
			&d.DiscountPercent, &d.Rating, &d.ReviewCount, &d.SalesRank,
			&domainID, &d.Market, &d.Category, &d.Layout, &d.DealScore,
			&d.URL, &prime, &d.Source); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		d.Domain = types.ParseDomain(domainID)
		d.PrimeEligible = prime != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// ActiveDealFiltersWithUsers returns every active filter with its owner.
func (s *Store) ActiveDealFiltersWithUsers(ctx context.Context) ([]FilterWithUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.user_id, f.name, f.categories, f.min_price,
		       f.max_price, f.min_discount, f.max_discount, f.min_rating,
		       u.email, u.messaging_address, u.webhook_url, u.primary_channel
		FROM deal_filters f
		JOIN users u ON u.id = f.user_id
		WHERE f.active = 1 AND u.deleted = 0
		ORDER BY f.created_at`)
	if err != nil {
		return nil, fmt.Errorf("active deal filters: %w", err)
	}
	defer rows.Close()

	var out []FilterWithUser
	for rows.Next() {
		var (
			fw             FilterWithUser
			id, userID     string
			categoriesJSON string
		)
		if err := rows.Scan(&id, &userID, &fw.Filter.Name, &categoriesJSON,
			&fw.Filter.MinPrice, &fw.Filter.MaxPrice, &fw.Filter.MinDiscount,
			&fw.Filter.MaxDiscount, &fw.Filter.MinRating,
			&fw.User.Email, &fw.User.MessagingAddress, &fw.User.WebhookURL,
			&fw.User.PrimaryChannel); err != nil {
			return nil, fmt.Errorf("scan deal filter: %w", err)
		}
		fw.Filter.ID, _ = uuid.Parse(id)
		fw.Filter.UserID, _ = uuid.Parse(userID)
		fw.User.ID = fw.Filter.UserID
		fw.Filter.Active = true
		json.Unmarshal([]byte(categoriesJSON), &fw.Filter.Categories)
		out = append(out, fw)
	}
	return out, rows.Err()
}

// CreateDealFilter inserts a filter for a user.
func (s *Store) CreateDealFilter(ctx context.Context, f DealFilter) (uuid.UUID, error) {
	if f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
		return uuid.Nil, fmt.Errorf("%w: min_price above max_price", ErrInvalidInput)
	}
	categories, err := json.Marshal(f.Categories)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create deal filter: %w", err)
	}
	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deal_filters
			(id, user_id, name, categories, min_price, max_price,
			 min_discount, max_discount, min_rating, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), f.UserID.String(), f.Name, string(categories),
		f.MinPrice, f.MaxPrice, f.MinDiscount, f.MaxDiscount, f.MinRating,
		boolInt(f.Active), now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create deal filter: %w", err)
	}
	return id, nil
}

// SaveDealReport persists the generated report payload for a filter.
func (s *Store) SaveDealReport(ctx context.Context, filterID uuid.UUID, deals []types.Deal) (uuid.UUID, error) {
	payload, err := json.Marshal(deals)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save deal report: %w", err)
	}
	id := uuid.New()
	err = s.withRetry(ctx, "save deal report", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO deal_reports (id, filter_id, payload, generated_at)
			VALUES (?, ?, ?, ?)`,
			id.String(), filterID.String(), string(payload), now())
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("save deal report: %w", err)
	}
	return id, nil
}

// MarkDealReportSent stamps a report's delivery time.
func (s *Store) MarkDealReportSent(ctx context.Context, reportID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deal_reports SET sent_at = ? WHERE id = ?`,
		now(), reportID.String())
	if err != nil {
		return fmt.Errorf("mark report sent: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
