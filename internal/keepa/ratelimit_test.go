package keepa

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives a bucket without real sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBucket(rate, capacity int) (*TokenBucket, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewTokenBucket(rate, capacity)
	b.now = clock.now
	b.lastFill = clock.t
	return b, clock
}

func TestAcquireDeducts(t *testing.T) {
	t.Parallel()
	b, _ := newTestBucket(20, 200)

	if err := b.Acquire(context.Background(), 15, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	st := b.Snapshot()
	if st.Available != 185 {
		t.Errorf("available = %d, want 185", st.Available)
	}
	if st.TotalConsumed != 15 {
		t.Errorf("consumed = %d, want 15", st.TotalConsumed)
	}
}

func TestAcquireZeroCost(t *testing.T) {
	t.Parallel()
	b, _ := newTestBucket(20, 200)
	if err := b.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("zero cost should never block: %v", err)
	}
	if got := b.Snapshot().Available; got != 200 {
		t.Errorf("available = %d, want 200", got)
	}
}

func TestAcquireExhausted(t *testing.T) {
	t.Parallel()
	b, _ := newTestBucket(20, 200)
	b.tokens = 4

	err := b.Acquire(context.Background(), 15, 0)
	if !errors.Is(err, ErrTokensExhausted) {
		t.Fatalf("err = %v, want ErrTokensExhausted", err)
	}
	// The short balance stays untouched on failure.
	if got := b.Snapshot().Available; got != 4 {
		t.Errorf("available = %d, want 4", got)
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	t.Parallel()
	b, _ := newTestBucket(20, 200)
	b.tokens = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Acquire(ctx, 15, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRefillRate(t *testing.T) {
	t.Parallel()
	b, clock := newTestBucket(20, 200)
	b.tokens = 0

	// 20 tokens per minute: 90 seconds credits 30.
	clock.advance(90 * time.Second)
	if got := b.Snapshot().Available; got != 30 {
		t.Errorf("available after 90s = %d, want 30", got)
	}
}

func TestRefillCappedAtCapacity(t *testing.T) {
	t.Parallel()
	b, clock := newTestBucket(20, 200)
	b.tokens = 190

	clock.advance(time.Hour)
	if got := b.Snapshot().Available; got != 200 {
		t.Errorf("available = %d, want capacity 200", got)
	}
}

func TestSyncLastWriterWins(t *testing.T) {
	t.Parallel()
	b, _ := newTestBucket(20, 200)

	b.Sync(57)
	if got := b.Snapshot().Available; got != 57 {
		t.Errorf("available = %d, want server-reported 57", got)
	}
}

func TestSyncGrowsCapacity(t *testing.T) {
	t.Parallel()
	b, clock := newTestBucket(20, 200)

	// A balance above the configured capacity raises it; the refill cap
	// follows the server's view.
	b.Sync(300)
	clock.advance(time.Hour)
	if got := b.Snapshot().Available; got != 300 {
		t.Errorf("available = %d, want 300", got)
	}
}

func TestSetRate(t *testing.T) {
	t.Parallel()
	b, clock := newTestBucket(20, 200)
	b.tokens = 0

	b.SetRate(60)
	clock.advance(time.Minute)
	if got := b.Snapshot().Available; got != 60 {
		t.Errorf("available = %d, want 60 after rate change", got)
	}

	b.SetRate(0) // ignored
	if got := b.Snapshot().PerMinute; got != 60 {
		t.Errorf("rate = %d, want 60", got)
	}
}

func TestAcquireAfterRefill(t *testing.T) {
	t.Parallel()
	b, clock := newTestBucket(20, 200)
	b.tokens = 5

	clock.advance(30 * time.Second) // +10 tokens
	if err := b.Acquire(context.Background(), 15, 0); err != nil {
		t.Fatalf("acquire after refill: %v", err)
	}
	if got := b.Snapshot().Available; got != 0 {
		t.Errorf("available = %d, want 0", got)
	}
}
