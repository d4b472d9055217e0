package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a mutable clock shared with the limiter under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(clock *fakeClock, clientLimit, correlationLimit int) *Limiter {
	return NewLimiter(LimiterConfig{
		Client:      TierLimit{Requests: clientLimit, Window: time.Minute},
		Correlation: TierLimit{Requests: correlationLimit, Window: time.Minute},
		Clock:       clock.Now,
	})
}

func TestClientWindowExhaustionAndReset(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 3, 100)

	for i := 0; i < 3; i++ {
		dec := limiter.Check("10.0.0.1", NewCorrelationID())
		require.True(t, dec.Allowed, "request %d should pass", i+1)
	}

	dec := limiter.Check("10.0.0.1", NewCorrelationID())
	require.False(t, dec.Allowed)
	require.Equal(t, TierClient, dec.Tier)
	require.Greater(t, dec.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, dec.RetryAfter, time.Minute)

	clock.Advance(time.Minute)

	dec = limiter.Check("10.0.0.1", NewCorrelationID())
	require.True(t, dec.Allowed, "fresh window should admit again")
}

func TestCorrelationTierDeniesAcrossClients(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 100, 2)

	id := "550e8400-e29b-41d4-a716-446655440000"

	require.True(t, limiter.Check("10.0.0.1", id).Allowed)
	require.True(t, limiter.Check("10.0.0.2", id).Allowed)

	dec := limiter.Check("10.0.0.3", id)
	require.False(t, dec.Allowed)
	require.Equal(t, TierCorrelation, dec.Tier)
	require.True(t, dec.ClientAllowed)
	require.False(t, dec.CorrelationAllowed)
}

func TestDenialDoesNotConsumeQuota(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 100, 1)

	id := "550e8400-e29b-41d4-a716-446655440000"
	require.True(t, limiter.Check("10.0.0.1", id).Allowed)

	// Repeated denials must not charge the client tier either; a different
	// correlation id from the same client must still have full quota.
	for i := 0; i < 50; i++ {
		require.False(t, limiter.Check("10.0.0.1", id).Allowed)
	}

	for i := 0; i < 99; i++ {
		dec := limiter.Check("10.0.0.1", NewCorrelationID())
		require.True(t, dec.Allowed, "denials above must not have charged the client tier (request %d)", i+1)
	}
}

func TestCorrelationDenialDoesNotChargeClientTier(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 2, 1)

	id := "550e8400-e29b-41d4-a716-446655440000"
	require.True(t, limiter.Check("10.0.0.1", id).Allowed)

	// Correlation tier is exhausted; this denial must not count against the
	// client either (only one of two client slots is used).
	require.False(t, limiter.Check("10.0.0.1", id).Allowed)

	dec := limiter.Check("10.0.0.1", NewCorrelationID())
	require.True(t, dec.Allowed)
}

func TestBothTiersDenyReportsClientTier(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 1, 1)

	id := "550e8400-e29b-41d4-a716-446655440000"
	require.True(t, limiter.Check("10.0.0.1", id).Allowed)

	dec := limiter.Check("10.0.0.1", id)
	require.False(t, dec.Allowed)
	require.Equal(t, TierClient, dec.Tier)
	require.False(t, dec.ClientAllowed)
	require.False(t, dec.CorrelationAllowed)
}

func TestWindowBoundaryGrantsFreshAllowance(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 2, 100)

	require.True(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)
	require.True(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)
	require.False(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)

	// Exactly at the boundary the window rolls over; the burst is not
	// carried into the new window.
	clock.Advance(time.Minute)
	require.True(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)
	require.True(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)
	require.False(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)
}

func TestConcurrentChecksAdmitExactlyLimit(t *testing.T) {
	const limit = 16
	const workers = 100

	clock := newFakeClock()
	limiter := newTestLimiter(clock, limit, workers+1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed, denied := 0, 0

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dec := limiter.Check("10.0.0.1", NewCorrelationID())
			mu.Lock()
			if dec.Allowed {
				allowed++
			} else {
				denied++
			}
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, limit, allowed, "races must admit exactly the limit")
	require.Equal(t, workers-limit, denied)
}

func TestConcurrentChecksOnSharedCorrelationID(t *testing.T) {
	const limit = 8
	const workers = 64

	clock := newFakeClock()
	limiter := newTestLimiter(clock, workers+1, limit)

	id := "550e8400-e29b-41d4-a716-446655440000"

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		client := NewCorrelationID() // distinct opaque client keys
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check(client, id).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, limit, allowed)
}

func TestSweepEvictsIdleCounters(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(LimiterConfig{
		Client:      TierLimit{Requests: 10, Window: time.Minute},
		Correlation: TierLimit{Requests: 10, Window: time.Minute},
		SweepAfter:  2,
		Clock:       clock.Now,
	})

	for i := 0; i < 5; i++ {
		limiter.Check("10.0.0.1", NewCorrelationID())
	}
	require.Equal(t, 1, limiter.Keys()[TierClient])
	require.Equal(t, 5, limiter.Keys()[TierCorrelation])

	// Not yet past the idle cutoff.
	clock.Advance(2 * time.Minute)
	limiter.Sweep()
	require.Equal(t, 1, limiter.Keys()[TierClient])

	clock.Advance(2 * time.Minute)
	limiter.Sweep()
	require.Equal(t, 0, limiter.Keys()[TierClient])
	require.Equal(t, 0, limiter.Keys()[TierCorrelation])

	// A key observed after eviction starts a fresh counter.
	require.True(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)
	require.Equal(t, 1, limiter.Keys()[TierClient])
}

func TestRetryAfterShrinksAsWindowElapses(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 1, 100)

	require.True(t, limiter.Check("10.0.0.1", NewCorrelationID()).Allowed)

	clock.Advance(45 * time.Second)
	dec := limiter.Check("10.0.0.1", NewCorrelationID())
	require.False(t, dec.Allowed)
	require.Equal(t, 15*time.Second, dec.RetryAfter)
}

func TestStatsAggregatorCountsPerTier(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock, 2, 1)
	stats := NewStatsAggregator()

	id := "550e8400-e29b-41d4-a716-446655440000"
	stats.Record(limiter.Check("10.0.0.1", id))
	stats.Record(limiter.Check("10.0.0.1", id)) // correlation tier denies
	stats.Record(limiter.Check("10.0.0.1", id)) // correlation tier denies

	counts := stats.Drain()
	require.Equal(t, int64(1), counts[TierClient].Allowed)
	require.Equal(t, int64(0), counts[TierClient].Denied)
	require.Equal(t, int64(1), counts[TierCorrelation].Allowed)
	require.Equal(t, int64(2), counts[TierCorrelation].Denied)

	// Drain resets.
	require.Nil(t, stats.Drain())
}
