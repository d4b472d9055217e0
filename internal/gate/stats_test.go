package gate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsAggregator_RecordAllowed(t *testing.T) {
	agg := NewStatsAggregator()

	agg.Record(Decision{Allowed: true, ClientAllowed: true, CorrelationAllowed: true})
	agg.Record(Decision{Allowed: true, ClientAllowed: true, CorrelationAllowed: true})

	drained := agg.Drain()
	require.Equal(t, TierCounts{Allowed: 2}, drained[TierClient])
	require.Equal(t, TierCounts{Allowed: 2}, drained[TierCorrelation])
}

func TestStatsAggregator_DenialCountsAgainstFailingTier(t *testing.T) {
	agg := NewStatsAggregator()

	// Client tier exhausted; correlation tier would also have denied.
	agg.Record(Decision{
		Allowed:            false,
		Tier:               TierClient,
		ClientAllowed:      false,
		CorrelationAllowed: false,
	})

	drained := agg.Drain()
	require.Equal(t, TierCounts{Denied: 1}, drained[TierClient])
	require.Equal(t, TierCounts{Denied: 1}, drained[TierCorrelation])
}

func TestStatsAggregator_DeniedRequestNotCountedAsAllowed(t *testing.T) {
	agg := NewStatsAggregator()

	// Correlation tier denied the request; the client tier had capacity but
	// the request never consumed it.
	agg.Record(Decision{
		Allowed:            false,
		Tier:               TierCorrelation,
		ClientAllowed:      true,
		CorrelationAllowed: false,
	})

	drained := agg.Drain()
	require.Equal(t, TierCounts{}, drained[TierClient])
	require.Equal(t, TierCounts{Denied: 1}, drained[TierCorrelation])
}

func TestStatsAggregator_DrainResets(t *testing.T) {
	agg := NewStatsAggregator()
	agg.Record(Decision{Allowed: true, ClientAllowed: true, CorrelationAllowed: true})

	first := agg.Drain()
	require.NotNil(t, first)

	require.Nil(t, agg.Drain(), "second drain should be empty")
}

func TestStatsAggregator_NilReceiverIsSafe(t *testing.T) {
	var agg *StatsAggregator
	agg.Record(Decision{Allowed: true})
	require.Nil(t, agg.Drain())
}

func TestStatsAggregator_ConcurrentRecord(t *testing.T) {
	agg := NewStatsAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Record(Decision{Allowed: true, ClientAllowed: true, CorrelationAllowed: true})
			}
		}()
	}
	wg.Wait()

	drained := agg.Drain()
	require.Equal(t, int64(800), drained[TierClient].Allowed)
}
