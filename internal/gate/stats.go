package gate

import "sync"

// TierCounts is an aggregate of decisions for one tier. Only totals are
// tracked here; per-key data never leaves the limiter.
type TierCounts struct {
	Allowed int64
	Denied  int64
}

// StatsAggregator accumulates per-tier allow/deny totals in memory. The
// serve loop drains it periodically into the store; nothing here persists
// correlation ids or client addresses.
type StatsAggregator struct {
	mu     sync.Mutex
	byTier map[Tier]TierCounts
}

// NewStatsAggregator creates an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{byTier: make(map[Tier]TierCounts)}
}

// Record attributes one decision to both tiers using the per-tier verdicts,
// so a request denied by the client tier still counts as denied (not
// allowed) on the correlation tier it would also have failed.
func (a *StatsAggregator) Record(d Decision) {
	if a == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	client := a.byTier[TierClient]
	if d.ClientAllowed && d.Allowed {
		client.Allowed++
	} else if !d.ClientAllowed {
		client.Denied++
	}
	a.byTier[TierClient] = client

	correlation := a.byTier[TierCorrelation]
	if d.CorrelationAllowed && d.Allowed {
		correlation.Allowed++
	} else if !d.CorrelationAllowed {
		correlation.Denied++
	}
	a.byTier[TierCorrelation] = correlation
}

// Drain returns the accumulated totals and resets the aggregator.
func (a *StatsAggregator) Drain() map[Tier]TierCounts {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	drained := a.byTier
	a.byTier = make(map[Tier]TierCounts)
	if len(drained) == 0 {
		return nil
	}
	return drained
}
