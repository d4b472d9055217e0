package gate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tier identifies one of the two independent rate-limit dimensions.
type Tier string

const (
	// TierClient limits by caller network address.
	TierClient Tier = "client"

	// TierCorrelation limits by correlation id.
	TierCorrelation Tier = "correlation"
)

// TierLimit configures one tier's fixed window.
type TierLimit struct {
	Requests int
	Window   time.Duration
}

// LimiterConfig configures the dual-tier limiter. It is read once at
// startup and treated as immutable for the process lifetime.
type LimiterConfig struct {
	Client      TierLimit
	Correlation TierLimit

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration

	// SweepAfter is the number of window lengths a counter must sit idle
	// past its window end before the sweep evicts it.
	SweepAfter int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Decision is the outcome of one check. When Allowed is false, Tier names
// the denying tier surfaced to the caller and RetryAfter is the remainder
// of that tier's window. The per-tier verdicts are always populated so both
// outcomes stay available for logging and metrics even when only one is
// reported.
type Decision struct {
	Allowed    bool
	Tier       Tier
	RetryAfter time.Duration

	ClientAllowed      bool
	CorrelationAllowed bool
}

// cell holds one key's fixed-window counter. count and windowStart are only
// touched with mu held.
type cell struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time

	// evicted marks a cell the sweep removed from its map between a
	// caller's lookup and lock acquisition; the caller must re-fetch.
	evicted bool
}

type tierState struct {
	name  Tier
	limit TierLimit

	mu    sync.Mutex
	cells map[string]*cell
}

// Limiter enforces two independent fixed-window rate limits per request
// observation. All mutation goes through Check; counters are never exposed.
type Limiter struct {
	client      *tierState
	correlation *tierState

	sweepInterval time.Duration
	sweepAfter    int
	clock         func() time.Time
}

// NewLimiter builds a limiter from config. Zero sweep settings fall back to
// one sweep per minute evicting counters idle for three window lengths.
func NewLimiter(cfg LimiterConfig) *Limiter {
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	sweepAfter := cfg.SweepAfter
	if sweepAfter <= 0 {
		sweepAfter = 3
	}

	return &Limiter{
		client:        newTierState(TierClient, cfg.Client),
		correlation:   newTierState(TierCorrelation, cfg.Correlation),
		sweepInterval: sweepInterval,
		sweepAfter:    sweepAfter,
		clock:         clock,
	}
}

func newTierState(name Tier, limit TierLimit) *tierState {
	return &tierState{
		name:  name,
		limit: limit,
		cells: make(map[string]*cell),
	}
}

// Check evaluates both tiers for one request observation and commits the
// increments only when both tiers allow. A denial by either tier leaves
// both counters untouched, so a denied request never costs quota, and a
// single call never double-charges a key.
//
// Both cells are held locked for the whole decision, always client cell
// first, so concurrent observations of the same key serialize and exactly
// Requests observations pass per window. The check performs no I/O and
// never blocks on anything external.
func (l *Limiter) Check(clientKey, correlationKey string) Decision {
	now := l.clock()

	clientCell := l.client.acquire(clientKey)
	defer clientCell.mu.Unlock()
	correlationCell := l.correlation.acquire(correlationKey)
	defer correlationCell.mu.Unlock()

	clientOK, clientRetry := clientCell.verdict(now, l.client.limit)
	correlationOK, correlationRetry := correlationCell.verdict(now, l.correlation.limit)

	decision := Decision{
		ClientAllowed:      clientOK,
		CorrelationAllowed: correlationOK,
	}

	switch {
	case clientOK && correlationOK:
		clientCell.count++
		correlationCell.count++
		decision.Allowed = true
	case !clientOK:
		// When both tiers deny, the client tier's denial is reported:
		// global per-address protection takes precedence in user-facing
		// messaging.
		decision.Tier = TierClient
		decision.RetryAfter = clientRetry
	default:
		decision.Tier = TierCorrelation
		decision.RetryAfter = correlationRetry
	}

	return decision
}

// acquire returns the key's cell with its lock held, creating it lazily on
// first observation. The tier map lock is only held for lookup/creation so
// unrelated keys never serialize on each other.
func (t *tierState) acquire(key string) *cell {
	for {
		t.mu.Lock()
		c, ok := t.cells[key]
		if !ok {
			c = &cell{}
			t.cells[key] = c
		}
		t.mu.Unlock()

		c.mu.Lock()
		if !c.evicted {
			return c
		}
		// Lost a race with the sweep; the map entry is gone.
		c.mu.Unlock()
	}
}

// verdict applies the fixed-window algorithm for one tier with the cell
// lock held: roll the window over when stale, then compare against the
// limit. The caller commits the increment.
func (c *cell) verdict(now time.Time, limit TierLimit) (bool, time.Duration) {
	if c.count < 0 {
		panic(fmt.Sprintf("gate: negative rate counter %d", c.count))
	}

	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= limit.Window {
		// Stale window rollover. A burst exactly at a window boundary gets
		// a fresh allowance rather than carrying the old count over; this
		// is the documented fixed-window tradeoff against sliding-window
		// or token-bucket schemes.
		c.windowStart = now
		c.count = 0
	}

	if c.count >= limit.Requests {
		return false, limit.Window - now.Sub(c.windowStart)
	}
	return true, 0
}

// Run executes the periodic eviction sweep until ctx is cancelled. Lazy
// rollover alone bounds memory only by the number of distinct keys ever
// seen; the sweep bounds it by the recently active population.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep evicts counters whose window ended more than SweepAfter window
// lengths ago. It takes the same per-cell lock as foreground increments so
// an eviction never races a concurrent check on the same key.
func (l *Limiter) Sweep() {
	now := l.clock()
	l.client.sweep(now, l.sweepAfter)
	l.correlation.sweep(now, l.sweepAfter)
}

func (t *tierState) sweep(now time.Time, after int) {
	cutoff := time.Duration(after+1) * t.limit.Window

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, c := range t.cells {
		c.mu.Lock()
		if now.Sub(c.windowStart) >= cutoff {
			c.evicted = true
			delete(t.cells, key)
		}
		c.mu.Unlock()
	}
}

// size reports the live counter count for a tier, for tests and health
// reporting.
func (t *tierState) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}

// Keys reports the number of live counters per tier.
func (l *Limiter) Keys() map[Tier]int {
	return map[Tier]int{
		TierClient:      l.client.size(),
		TierCorrelation: l.correlation.size(),
	}
}

// Limits returns the configured per-tier limits.
func (l *Limiter) Limits() map[Tier]TierLimit {
	return map[Tier]TierLimit{
		TierClient:      l.client.limit,
		TierCorrelation: l.correlation.limit,
	}
}

// RetryAfterSeconds converts a retry hint to whole seconds for the
// Retry-After header, rounding up with a floor of one second.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
