package keepa

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket tracks the API token budget shared by every caller in the
// process. Tokens refill continuously at rate/60 per second; refill is
// applied lazily whenever the bucket is inspected under the mutex.
//
// The server reports its own view of the balance on every response; Sync
// replaces the local count with it (last writer wins), so local drift from
// rounding or other API consumers self-corrects on the next call.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per minute
	lastFill time.Time
	consumed int64

	now func() time.Time // test seam
}

// Status is a point-in-time view of the bucket.
type Status struct {
	Available     int
	PerMinute     int
	LastRefill    time.Time
	TotalConsumed int64
}

// pollInterval is how often a blocked Acquire re-checks the balance.
const pollInterval = 500 * time.Millisecond

// NewTokenBucket returns a bucket that starts full.
func NewTokenBucket(ratePerMinute, capacity int) *TokenBucket {
	return &TokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(ratePerMinute),
		lastFill: time.Now(),
		now:      time.Now,
	}
}

// refillLocked credits tokens accrued since the last fill. Caller holds mu.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate / 60.0
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastFill = now
}

// Acquire blocks until cost tokens are available, then deducts them. It
// returns ErrTokensExhausted if the budget cannot be covered within maxWait,
// or ctx.Err() if the context is canceled first. A maxWait of zero fails
// immediately when the balance is short.
func (b *TokenBucket) Acquire(ctx context.Context, cost int, maxWait time.Duration) error {
	if cost <= 0 {
		return nil
	}
	deadline := b.now().Add(maxWait)
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= float64(cost) {
			b.tokens -= float64(cost)
			b.consumed += int64(cost)
			b.mu.Unlock()
			return nil
		}
		short := float64(cost) - b.tokens
		b.mu.Unlock()

		wait := pollInterval
		if remaining := deadline.Sub(b.now()); remaining <= 0 {
			return fmt.Errorf("%w: short %.0f tokens after waiting %s", ErrTokensExhausted, short, maxWait)
		} else if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Sync replaces the local balance with the server-reported one.
func (b *TokenBucket) Sync(serverTokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = float64(serverTokens)
	if b.tokens > b.capacity {
		b.capacity = b.tokens
	}
	b.lastFill = b.now()
}

// SetRate adopts a server-reported refill rate (tokens per minute).
func (b *TokenBucket) SetRate(ratePerMinute int) {
	if ratePerMinute <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.rate = float64(ratePerMinute)
}

// Snapshot returns a consistent view of the bucket without blocking.
func (b *TokenBucket) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return Status{
		Available:     int(b.tokens),
		PerMinute:     int(b.rate),
		LastRefill:    b.lastFill,
		TotalConsumed: b.consumed,
	}
}
