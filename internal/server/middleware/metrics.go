package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/uptotrial/uptotrial/internal/observability"
	"go.uber.org/zap"
)

// ProcessTimeHeader reports handler wall time in seconds to the caller.
const ProcessTimeHeader = "X-Process-Time"

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	started      time.Time
	wroteHeader  bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		// Headers lock on first write, so the timing header goes out with
		// whatever has elapsed by then.
		rw.Header().Set(ProcessTimeHeader, formatProcessTime(time.Since(rw.started)))
		rw.wroteHeader = true
	}
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func formatProcessTime(d time.Duration) string {
	return fmt.Sprintf("%.6f", d.Seconds())
}

// getEndpointPattern extracts chi route pattern to avoid high-cardinality paths
func getEndpointPattern(r *http.Request) string {
	routePattern := chi.RouteContext(r.Context()).RoutePattern()
	if routePattern != "" {
		return routePattern
	}

	// Fallback to path-based categorization for non-chi routes
	path := r.URL.Path
	switch path {
	case "/api/health", "/health", "/health/live", "/health/ready", "/health/startup":
		return "/health/*"
	case "/version":
		return "/version"
	case "/metrics":
		return "/metrics"
	case "/":
		return "/"
	default:
		return "/unknown"
	}
}

// RequestMetrics middleware captures HTTP request metrics following
// Prometheus standards and stamps the X-Process-Time response header.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, started: start}

		// Get request size from Content-Length header
		requestSize := int64(0)
		if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
			if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
				requestSize = size
			}
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := getEndpointPattern(r)

		if observability.TelemetrySystem != nil {
			// Common labels for all metrics (avoid high cardinality)
			commonLabels := map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
				"status":   strconv.Itoa(wrapped.statusCode),
			}

			_ = observability.TelemetrySystem.Counter(
				"http_requests_total",
				1,
				commonLabels,
			)

			// Duration histogram in milliseconds (gofulmen standard)
			_ = observability.TelemetrySystem.Histogram(
				"http_request_duration_ms",
				duration,
				commonLabels,
			)

			_ = observability.TelemetrySystem.Gauge(
				"http_request_size_bytes",
				float64(requestSize),
				map[string]string{
					"method":   r.Method,
					"endpoint": endpoint,
				},
			)

			_ = observability.TelemetrySystem.Gauge(
				"http_response_size_bytes",
				float64(wrapped.bytesWritten),
				map[string]string{
					"method":   r.Method,
					"endpoint": endpoint,
				},
			)

			if wrapped.statusCode >= 400 {
				errorType := "client_error" // 4xx
				if wrapped.statusCode >= 500 {
					errorType = "server_error" // 5xx
				}

				_ = observability.TelemetrySystem.Counter(
					"http_errors_total",
					1,
					map[string]string{
						"method":     r.Method,
						"endpoint":   endpoint,
						"status":     strconv.Itoa(wrapped.statusCode),
						"error_type": errorType,
					},
				)
			}
		}

		// Correlation id stays in logs, not metric labels
		correlationID := GetCorrelationID(r.Context())
		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("correlation_id", correlationID),
			)
		}
	})
}
