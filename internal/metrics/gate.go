package metrics

import (
	"github.com/uptotrial/uptotrial/internal/observability"
)

// Gate metric names following Prometheus conventions
const (
	GateDecisionsTotalName  = "gate_decisions_total"
	GateRejectionsTotalName = "gate_rejections_total"
	GateKeysName            = "gate_live_keys"
)

// RecordGateDecision records one per-tier verdict of the rate limiter.
// Both tiers are recorded for every request observation, including the
// tier whose denial was not the one surfaced to the caller.
func RecordGateDecision(tier string, allowed bool) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GateDecisionsTotalName,
			1,
			map[string]string{
				"tier":     tier,
				"decision": decision,
			},
		)
	}
}

// RecordGateRejection records a terminal gate rejection by reason code
// (correlation failures and rate-limit denials alike).
func RecordGateRejection(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GateRejectionsTotalName,
			1,
			map[string]string{
				"reason": reason,
			},
		)
	}
}

// SetGateLiveKeys reports the number of live limiter counters per tier.
func SetGateLiveKeys(tier string, count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			GateKeysName,
			float64(count),
			map[string]string{
				"tier": tier,
			},
		)
	}
}
