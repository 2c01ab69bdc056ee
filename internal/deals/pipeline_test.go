package deals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"keeper/internal/keepa"
	"keeper/internal/store"
	"keeper/pkg/types"
)

// fakeAPI serves canned products and deal-search results.
type fakeAPI struct {
	mu        sync.Mutex
	products  map[string]types.Product
	deals     []types.Deal
	dealErr   error
	dealCalls int
}

func (f *fakeAPI) QueryProduct(_ context.Context, asin string, domain types.Domain) (types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[asin]
	if !ok {
		return types.Product{}, fmt.Errorf("query %s: no product in response: %w", asin, keepa.ErrInvalidResponse)
	}
	p.Domain = domain
	return p, nil
}

func (f *fakeAPI) SearchDeals(context.Context, keepa.DealFilter) ([]types.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dealCalls++
	if f.dealErr != nil {
		return nil, f.dealErr
	}
	return f.deals, nil
}

type sinkRecorder struct {
	mu      sync.Mutex
	events  []types.DealEvent
	indexed []types.Deal
}

func (s *sinkRecorder) PublishDealEvent(_ context.Context, ev types.DealEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *sinkRecorder) IndexDeal(_ context.Context, d types.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, d)
	return nil
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

func keyboardProduct(asin string) types.Product {
	return types.Product{
		ASIN:         asin,
		Title:        "Logitech Mechanische Tastatur QWERTZ",
		CurrentPrice: 79.99,
		ListPrice:    99.99,
		Rating:       4.6,
		ReviewCount:  800,
		SalesRank:    1200,
		Domain:       types.DomainDE,
	}
}

func TestCycleProductFallback(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	api := &fakeAPI{products: map[string]types.Product{
		"B005EOWBHC": keyboardProduct("B005EOWBHC"),
		"B00F34GN18": keyboardProduct("B00F34GN18"),
	}}
	sinks := &sinkRecorder{}
	seeds := NewSeedSource("", "", []string{"B005EOWBHC", "B00F34GN18", "B0MISSING1"}, testLogger())

	p := New(api, st, sinks, sinks, seeds, Config{
		Mode: "product_only", ScanInterval: time.Hour, BatchSize: 10,
	}, testLogger())
	p.runCycle(context.Background())

	if api.dealCalls != 0 {
		t.Errorf("deal endpoint called %d times in product_only mode", api.dealCalls)
	}
	if len(sinks.events) != 2 {
		t.Errorf("published = %d, want 2 (missing seed skipped)", len(sinks.events))
	}
	if len(sinks.indexed) != 2 {
		t.Errorf("indexed = %d, want 2", len(sinks.indexed))
	}

	best, err := st.BestDeals(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("best deals: %v", err)
	}
	if len(best) != 2 {
		t.Fatalf("stored = %d, want 2", len(best))
	}
	d := best[0]
	if d.Source != "product_heuristic" {
		t.Errorf("source = %q, want product_heuristic", d.Source)
	}
	if d.Layout != LayoutQWERTZ {
		t.Errorf("layout = %q, want qwertz from the title signal", d.Layout)
	}
	if d.DealScore <= 0 {
		t.Errorf("score = %v, want scored", d.DealScore)
	}
	if d.DiscountPercent != 20 {
		t.Errorf("discount = %v, want 20 from the list price", d.DiscountPercent)
	}
}

func TestCycleDealEndpoint(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	api := &fakeAPI{deals: []types.Deal{
		{
			ASIN: "B07W6JN8V8", Title: "Corsair K70 Mechanical Keyboard",
			CurrentPrice: 129.99, ListPrice: 179.99, DiscountPercent: 28,
			Rating: 4.7, Domain: types.DomainDE, Source: "deal_api",
		},
		{
			ASIN: "B000000001", Title: "USB-C Ladekabel", // not a keyboard
			CurrentPrice: 12.99, Rating: 4.8, Domain: types.DomainDE,
		},
		{
			ASIN: "B000000002", Title: "Razer Keyboard", // spam: rating
			CurrentPrice: 99.99, Rating: 2.1, Domain: types.DomainDE,
		},
	}}
	sinks := &sinkRecorder{}
	seeds := NewSeedSource("", "", []string{"B005EOWBHC"}, testLogger())

	p := New(api, st, sinks, sinks, seeds, Config{
		Mode: "deals", ScanInterval: time.Hour, BatchSize: 10,
	}, testLogger())
	p.runCycle(context.Background())

	if api.dealCalls != 1 {
		t.Errorf("deal calls = %d, want 1", api.dealCalls)
	}
	if len(sinks.events) != 1 {
		t.Fatalf("published = %d, want only the keyboard deal", len(sinks.events))
	}
	if sinks.events[0].ASIN != "B07W6JN8V8" {
		t.Errorf("published asin = %q", sinks.events[0].ASIN)
	}
}

func TestDealDeniedFallsBackPermanently(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	api := &fakeAPI{
		dealErr:  keepa.ErrDealAccessDenied,
		products: map[string]types.Product{"B005EOWBHC": keyboardProduct("B005EOWBHC")},
	}
	seeds := NewSeedSource("", "", []string{"B005EOWBHC"}, testLogger())

	p := New(api, st, nil, nil, seeds, Config{
		Mode: "deals", ScanInterval: time.Hour, BatchSize: 10,
	}, testLogger())

	p.runCycle(context.Background())
	if !p.dealDenied {
		t.Fatal("a 404 on the deal endpoint should disable it")
	}
	// Subsequent cycles never retry the endpoint.
	p.runCycle(context.Background())
	if api.dealCalls != 1 {
		t.Errorf("deal calls = %d, want 1 (no retry after denial)", api.dealCalls)
	}

	// The product fallback still collected.
	best, _ := st.BestDeals(context.Background(), time.Hour, 10)
	if len(best) == 0 {
		t.Error("product fallback stored nothing")
	}
}

func TestCycleRaisesWatchAlerts(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	userID, err := st.CreateUser(ctx, store.User{Email: "user@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreateWatch(ctx, userID, "B005EOWBHC", "K120", 85.00, types.DomainDE); err != nil {
		t.Fatalf("create watch: %v", err)
	}

	api := &fakeAPI{products: map[string]types.Product{
		"B005EOWBHC": keyboardProduct("B005EOWBHC"), // 79.99, under the target
	}}
	seeds := NewSeedSource("", "", []string{"B005EOWBHC"}, testLogger())
	p := New(api, st, nil, nil, seeds, Config{
		Mode: "product_only", ScanInterval: time.Hour, BatchSize: 10,
	}, testLogger())

	p.runCycle(ctx)

	pending, err := st.PendingAlertsWithContext(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("alerts = %d, want 1", len(pending))
	}
	if pending[0].Alert.TriggeredPrice != 79.99 {
		t.Errorf("triggered = %v, want 79.99", pending[0].Alert.TriggeredPrice)
	}

	// Another cycle inside the guard window stays quiet.
	p.runCycle(ctx)
	pending, _ = st.PendingAlertsWithContext(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("alerts = %d after second cycle, want 1", len(pending))
	}
}

func TestCursorRotation(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	var queried []string
	var mu sync.Mutex
	api := &fakeAPI{products: map[string]types.Product{}}

	// Track which seeds each cycle touches through the query log.
	logAPI := &loggingAPI{inner: api, log: func(asin string) {
		mu.Lock()
		queried = append(queried, asin)
		mu.Unlock()
	}}

	seeds := NewSeedSource("", "", []string{
		"B000000001", "B000000002", "B000000003",
	}, testLogger())
	p := New(logAPI, st, nil, nil, seeds, Config{
		Mode: "product_only", ScanInterval: time.Hour, BatchSize: 2,
	}, testLogger())

	p.runCycle(context.Background())
	p.runCycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(queried) != 4 {
		t.Fatalf("queried = %d, want 4 across two cycles", len(queried))
	}
	// Second cycle starts where the first left off and wraps: 1,2 then 3,1.
	got := map[string]int{}
	for _, a := range queried {
		got[a]++
	}
	if got["B000000001"] != 2 || got["B000000002"] != 1 || got["B000000003"] != 1 {
		t.Errorf("rotation off: %v", queried)
	}
}

type loggingAPI struct {
	inner PriceAPI
	log   func(asin string)
}

func (l *loggingAPI) QueryProduct(ctx context.Context, asin string, domain types.Domain) (types.Product, error) {
	l.log(asin)
	return l.inner.QueryProduct(ctx, asin, domain)
}

func (l *loggingAPI) SearchDeals(ctx context.Context, f keepa.DealFilter) ([]types.Deal, error) {
	return l.inner.SearchDeals(ctx, f)
}
