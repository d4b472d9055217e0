package middleware

import (
	"net"
	"net/http"
	"strconv"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/metrics"
	"github.com/uptotrial/uptotrial/internal/observability"
	"go.uber.org/zap"
)

// RateLimit consults the dual-tier limiter for each request. It must run
// after Correlation so the correlation key is resolved; the client key is
// the request's remote address. Denied requests get a 429 envelope with a
// Retry-After header and consume no quota on either tier.
func RateLimit(limiter *gate.Limiter, stats *gate.StatsAggregator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := clientKeyFromRequest(r)
			correlationKey := GetCorrelationID(r.Context())
			if correlationKey == "" {
				// Only reachable when Correlation was skipped in the chain.
				correlationKey = "unknown"
			}

			decision := limiter.Check(clientKey, correlationKey)

			metrics.RecordGateDecision(string(gate.TierClient), decision.ClientAllowed)
			metrics.RecordGateDecision(string(gate.TierCorrelation), decision.CorrelationAllowed)
			if stats != nil {
				stats.Record(decision)
			}

			if !decision.Allowed {
				rejectRateLimited(w, r, decision, clientKey, correlationKey)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, decision gate.Decision, clientKey, correlationKey string) {
	code := "CLIENT_RATE_LIMITED"
	message := "Rate limit exceeded for this client address"
	if decision.Tier == gate.TierCorrelation {
		code = "CORRELATION_RATE_LIMITED"
		message = "Rate limit exceeded for this correlation id"
	}

	retrySeconds := gate.RetryAfterSeconds(decision.RetryAfter)

	metrics.RecordGateRejection(code)

	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Request rate limited",
			zap.String("tier", string(decision.Tier)),
			zap.String("client", clientKey),
			zap.String("correlation_id", correlationKey),
			zap.String("path", r.URL.Path),
			zap.Int("retry_after_seconds", retrySeconds),
		)
	}

	envelope := gferrors.NewErrorEnvelope(code, message).
		WithCorrelationID(correlationKey).
		WithDetails(map[string]interface{}{
			"tier":                string(decision.Tier),
			"retry_after_seconds": retrySeconds,
		})

	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
	writeErrorResponse(w, envelope, http.StatusTooManyRequests)
}

// clientKeyFromRequest derives the limiter's client key from the remote
// address, dropping the ephemeral port so one host maps to one counter.
// RealIP runs earlier in the chain, so proxied requests already carry the
// originating address here.
func clientKeyFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
