package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"keeper/internal/store"
	"keeper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := store.Open(dsn, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.GetOrCreateSystemUser(context.Background()); err != nil {
		t.Fatalf("system user: %v", err)
	}
	return s
}

func TestBuildPriceEventChange(t *testing.T) {
	t.Parallel()
	// A drop from 25 to 20 is a +20% change: positive means cheaper.
	ev := BuildPriceEvent("B005EOWBHC", "K120", 20.00, 22.00, 25.00, types.DomainDE)
	if ev.PriceChangePercent != 20 {
		t.Errorf("change = %v, want +20 on a drop", ev.PriceChangePercent)
	}
	if ev.EventType != EventPriceUpdate {
		t.Errorf("event type = %q", ev.EventType)
	}
	if ev.Domain != "de" || ev.Currency != "EUR" {
		t.Errorf("domain/currency = %q/%q", ev.Domain, ev.Currency)
	}
	if _, err := time.Parse(time.RFC3339, ev.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", ev.Timestamp, err)
	}

	// A rise goes negative.
	ev = BuildPriceEvent("B005EOWBHC", "K120", 30.00, 0, 25.00, types.DomainDE)
	if ev.PriceChangePercent != -20 {
		t.Errorf("change = %v, want -20 on a rise", ev.PriceChangePercent)
	}

	// No previous price, no change figure.
	ev = BuildPriceEvent("B005EOWBHC", "K120", 30.00, 0, 0, types.DomainDE)
	if ev.PriceChangePercent != 0 {
		t.Errorf("change = %v, want 0 without a previous price", ev.PriceChangePercent)
	}
}

func TestBuildPriceEventRounding(t *testing.T) {
	t.Parallel()
	// (30 - 20) / 30 * 100 = 33.333... -> 33.33
	ev := BuildPriceEvent("B005EOWBHC", "K120", 20.00, 0, 30.00, types.DomainDE)
	if ev.PriceChangePercent != 33.33 {
		t.Errorf("change = %v, want 33.33", ev.PriceChangePercent)
	}
}

func TestBuildDealEvent(t *testing.T) {
	t.Parallel()
	ev := BuildDealEvent(types.Deal{
		ASIN:            "B005EOWBHC",
		Title:           "K120",
		CurrentPrice:    19.99,
		ListPrice:       29.99,
		DiscountPercent: 33.3,
		Domain:          types.DomainFR,
		Market:          "FR",
	})
	if ev.EventType != EventDealFound {
		t.Errorf("event type = %q", ev.EventType)
	}
	if ev.OriginalPrice != 29.99 {
		t.Errorf("original price = %v, want the list price", ev.OriginalPrice)
	}
	if ev.Domain != "fr" || ev.DomainID != 4 {
		t.Errorf("domain = %q/%d", ev.Domain, ev.DomainID)
	}
}

func TestPriceHandlerUpdatesWatchAndAlerts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	userID, err := s.CreateUser(ctx, store.User{Email: "user@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	w, err := s.CreateWatch(ctx, userID, "B005EOWBHC", "K120", 20.00, types.DomainDE)
	if err != nil {
		t.Fatalf("create watch: %v", err)
	}

	handler := PriceHandler(s, testLogger())
	payload, _ := json.Marshal(BuildPriceEvent("B005EOWBHC", "K120", 18.50, 20.00, 25.00, types.DomainDE))
	if err := handler(ctx, []byte("B005EOWBHC"), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	after, err := s.GetWatch(ctx, w.ID)
	if err != nil {
		t.Fatalf("get watch: %v", err)
	}
	if after.CurrentPrice != 18.50 {
		t.Errorf("price = %v, want 18.50", after.CurrentPrice)
	}

	pending, err := s.PendingAlertsWithContext(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("alerts = %d, want 1 after the target crossed", len(pending))
	}

	// Replaying the record within the guard window adds history but not a
	// second alert.
	if err := handler(ctx, []byte("B005EOWBHC"), payload); err != nil {
		t.Fatalf("replay: %v", err)
	}
	pending, _ = s.PendingAlertsWithContext(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("alerts = %d after replay, want 1", len(pending))
	}
}

func TestPriceHandlerIgnoresUnusableEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	handler := PriceHandler(s, testLogger())
	ctx := context.Background()

	if err := handler(ctx, nil, []byte(`{"asin": "", "current_price": 10}`)); err != nil {
		t.Errorf("empty asin should be skipped: %v", err)
	}
	if err := handler(ctx, nil, []byte(`{"asin": "B005EOWBHC", "current_price": 0}`)); err != nil {
		t.Errorf("zero price should be skipped: %v", err)
	}
	if err := handler(ctx, nil, []byte(`not json`)); err == nil {
		t.Error("malformed payload should error")
	}
	// Untracked products are a no-op, not an error.
	if err := handler(ctx, nil, []byte(`{"asin": "B005EOWBHC", "current_price": 12.5}`)); err != nil {
		t.Errorf("untracked asin: %v", err)
	}
}

func TestDealHandlerAutoTracks(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	handler := DealHandler(s, testLogger())
	ctx := context.Background()

	payload, _ := json.Marshal(BuildDealEvent(types.Deal{
		ASIN:         "B00F34GN18",
		Title:        "Sharkoon Skiller",
		CurrentPrice: 24.99,
		Domain:       types.DomainDE,
		Market:       "DE",
	}))
	if err := handler(ctx, []byte("B00F34GN18"), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	watches, err := s.WatchesForASIN(ctx, "B00F34GN18")
	if err != nil {
		t.Fatalf("watches: %v", err)
	}
	if len(watches) != 1 {
		t.Fatalf("watches = %d, want the auto-tracked one", len(watches))
	}
	if watches[0].UserID != store.SystemUserID {
		t.Errorf("owner = %s, want the system user", watches[0].UserID)
	}
	if watches[0].CurrentPrice != 24.99 {
		t.Errorf("price = %v, want 24.99", watches[0].CurrentPrice)
	}
}
