package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptotrial/uptotrial/internal/gate"
)

func newTestLimiter(clientLimit, correlationLimit int) *gate.Limiter {
	return gate.NewLimiter(gate.LimiterConfig{
		Client:      gate.TierLimit{Requests: clientLimit, Window: time.Minute},
		Correlation: gate.TierLimit{Requests: correlationLimit, Window: time.Minute},
	})
}

func gatedHandler(limiter *gate.Limiter, stats *gate.StatsAggregator) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Correlation(newTestResolver())(RateLimit(limiter, stats)(inner))
}

func doGatedRequest(handler http.Handler, remoteAddr, correlationID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/v1/chat", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set(gate.DefaultHeader, correlationID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	handler := gatedHandler(newTestLimiter(5, 5), nil)

	for i := 0; i < 5; i++ {
		rec := doGatedRequest(handler, "10.0.0.1:4000", testUUID)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestRateLimit_ClientExhaustionReturns429(t *testing.T) {
	handler := gatedHandler(newTestLimiter(2, 100), nil)

	for i := 0; i < 2; i++ {
		rec := doGatedRequest(handler, "10.0.0.1:4000", testUUID)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doGatedRequest(handler, "10.0.0.1:4000", testUUID)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, "CLIENT_RATE_LIMITED", body.Error.Code)
	assert.Equal(t, testUUID, body.Error.RequestID)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestRateLimit_CorrelationTierSpansClients(t *testing.T) {
	handler := gatedHandler(newTestLimiter(100, 2), nil)

	require.Equal(t, http.StatusOK, doGatedRequest(handler, "10.0.0.1:4000", testUUID).Code)
	require.Equal(t, http.StatusOK, doGatedRequest(handler, "10.0.0.2:4000", testUUID).Code)

	// Third client, same correlation id: correlation tier is exhausted.
	rec := doGatedRequest(handler, "10.0.0.3:4000", testUUID)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, "CORRELATION_RATE_LIMITED", body.Error.Code)
	assert.Equal(t, "correlation", body.Error.Details["tier"])
}

func TestRateLimit_ClientTierReportedWhenBothExhausted(t *testing.T) {
	handler := gatedHandler(newTestLimiter(1, 1), nil)

	require.Equal(t, http.StatusOK, doGatedRequest(handler, "10.0.0.1:4000", testUUID).Code)

	rec := doGatedRequest(handler, "10.0.0.1:4000", testUUID)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "CLIENT_RATE_LIMITED", decodeErrorBody(t, rec).Error.Code)
}

func TestRateLimit_SeparateClientsSeparateBudgets(t *testing.T) {
	handler := gatedHandler(newTestLimiter(1, 100), nil)

	otherUUID := "fedcba98-7654-4321-8fed-cba987654321"

	require.Equal(t, http.StatusOK, doGatedRequest(handler, "10.0.0.1:4000", testUUID).Code)
	require.Equal(t, http.StatusTooManyRequests, doGatedRequest(handler, "10.0.0.1:4001", otherUUID).Code,
		"port must not be part of the client key")
	assert.Equal(t, http.StatusOK, doGatedRequest(handler, "10.0.0.2:4000", otherUUID).Code)
}

func TestRateLimit_ExemptPathStillCounted(t *testing.T) {
	limiter := newTestLimiter(100, 100)
	handler := gatedHandler(limiter, nil)

	// Rejected requests never reach the limiter.
	require.Equal(t, http.StatusBadRequest, doGatedRequest(handler, "10.0.0.1:4000", "").Code)
	require.Empty(t, limiter.Keys()[gate.TierClient])

	req := httptest.NewRequest("GET", "/api/health", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	// The exempt request traversed the limiter and registered a counter.
	keys := limiter.Keys()
	assert.Equal(t, 1, keys[gate.TierClient])
	assert.Equal(t, 1, keys[gate.TierCorrelation])
}

func TestRateLimit_RecordsStats(t *testing.T) {
	stats := gate.NewStatsAggregator()
	handler := gatedHandler(newTestLimiter(1, 100), stats)

	require.Equal(t, http.StatusOK, doGatedRequest(handler, "10.0.0.1:4000", testUUID).Code)
	require.Equal(t, http.StatusTooManyRequests, doGatedRequest(handler, "10.0.0.1:4001", testUUID).Code)

	drained := stats.Drain()
	require.NotNil(t, drained)
	assert.Equal(t, int64(1), drained[gate.TierClient].Allowed)
	assert.Equal(t, int64(1), drained[gate.TierClient].Denied)
}

func TestClientKeyFromRequest(t *testing.T) {
	tests := []struct {
		remoteAddr string
		expected   string
	}{
		{"10.0.0.1:4000", "10.0.0.1"},
		{"[2001:db8::1]:4000", "2001:db8::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = tt.remoteAddr
		assert.Equal(t, tt.expected, clientKeyFromRequest(req), "remote addr %q", tt.remoteAddr)
	}
}
