package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keeper/internal/alerts"
	"keeper/internal/deals"
	"keeper/internal/keepa"
	"keeper/internal/store"
	"keeper/pkg/types"
)

// reportMaxDeals caps how many deals one report carries.
const reportMaxDeals = 15

// reportWindow is how far back the collected-deals fallback looks.
const reportWindow = 24 * time.Hour

// runDailyDealReports builds one report per active deal filter: deals come
// from the deal endpoint when the plan allows it, otherwise from the last
// day of collected deals. Reports are persisted either way; mail goes out
// only when enough deals survive the spam filter.
func (e *Engine) runDailyDealReports(ctx context.Context) {
	filters, err := e.store.ActiveDealFiltersWithUsers(ctx)
	if err != nil {
		e.logger.Error("deal filter load failed", "err", err)
		return
	}
	if len(filters) == 0 {
		return
	}
	e.logger.Info("deal reports started", "filters", len(filters))

	for _, fw := range filters {
		if ctx.Err() != nil {
			return
		}
		if err := e.buildReport(ctx, fw); err != nil {
			e.logger.Warn("deal report failed",
				"filter", fw.Filter.ID, "user", fw.User.ID, "err", err)
		}
	}
}

func (e *Engine) buildReport(ctx context.Context, fw store.FilterWithUser) error {
	found, err := e.reportDeals(ctx, fw.Filter)
	if err != nil {
		return err
	}

	matched := make([]types.Deal, 0, len(found))
	for _, d := range found {
		d = deals.WithScore(deals.Canonicalize(d))
		if deals.MatchesFilter(d, fw.Filter) {
			matched = append(matched, d)
		}
	}
	matched = deals.FilterSpam(matched)
	if len(matched) > reportMaxDeals {
		matched = matched[:reportMaxDeals]
	}

	reportID, err := e.store.SaveDealReport(ctx, fw.Filter.ID, matched)
	if err != nil {
		return err
	}
	if !deals.ShouldSendReport(matched) {
		e.logger.Info("report below send threshold",
			"filter", fw.Filter.ID, "deals", len(matched))
		return nil
	}

	if !e.reportCh.Configured(fw.User) {
		e.logger.Info("report user has no mail address", "user", fw.User.ID)
		return nil
	}
	if err := e.reportCh.Send(ctx, fw.User, formatReport(fw.Filter, matched)); err != nil {
		return fmt.Errorf("report delivery: %w", err)
	}
	if err := e.store.MarkDealReportSent(ctx, reportID); err != nil {
		return err
	}
	e.logger.Info("deal report sent",
		"filter", fw.Filter.ID, "user", fw.User.ID, "deals", len(matched))
	return nil
}

// reportDeals queries the deal endpoint for the filter's ranges; when the
// plan rejects it, the last day of collected deals serves instead.
func (e *Engine) reportDeals(ctx context.Context, f store.DealFilter) ([]types.Deal, error) {
	found, err := e.client.SearchDeals(ctx, keepa.DealFilter{
		Domain:            types.DomainDE,
		MinDiscount:       int(f.MinDiscount),
		MaxDiscount:       int(f.MaxDiscount),
		MinPriceCents:     int(f.MinPrice * 100),
		MaxPriceCents:     int(f.MaxPrice * 100),
		IncludeCategories: f.Categories,
	})
	if err == nil {
		return found, nil
	}
	e.logger.Warn("deal endpoint unavailable for report, using collected deals",
		"filter", f.ID, "err", err)
	return e.store.BestDeals(ctx, reportWindow, reportMaxDeals*2)
}

func formatReport(f store.DealFilter, found []types.Deal) alerts.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your deal report for %q — %d deals today:\n\n", f.Name, len(found))
	for i, d := range found {
		fmt.Fprintf(&b, "%d. %s\n   %.2f€ (-%.0f%%, score %.1f)\n   %s\n\n",
			i+1, d.Title, d.CurrentPrice, d.DiscountPercent, d.DealScore, d.URL)
	}
	b.WriteString("Happy shopping!\nKeeper Team\n")
	return alerts.Message{
		Subject: fmt.Sprintf("Daily Deal Report: %s (%d deals)", f.Name, len(found)),
		Body:    b.String(),
	}
}
