package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/metrics"
	"github.com/uptotrial/uptotrial/internal/observability"
	"github.com/uptotrial/uptotrial/internal/server/middleware"
	"go.uber.org/zap"
)

// Error creation helpers for common error types

// User errors (400-level)
func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INVALID_INPUT", message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("NOT_FOUND", message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("METHOD_NOT_ALLOWED", message)
}

func NewNotImplementedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("NOT_IMPLEMENTED", message)
}

// Gate errors: the four terminal rejection reasons of the request gate.
// All four are normal traffic-shaping conditions, never server faults.

func NewMissingCorrelationIDError() *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("MISSING_CORRELATION_ID", gate.DefaultHeader+" header is required")
}

func NewInvalidCorrelationIDError() *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INVALID_CORRELATION_ID", gate.DefaultHeader+" must be a valid UUID")
}

// NewRateLimitedError builds the envelope for a limiter denial, carrying
// the denying tier and the retry-after hint in the details.
func NewRateLimitedError(tier gate.Tier, retryAfter time.Duration) *errors.ErrorEnvelope {
	code := "CLIENT_RATE_LIMITED"
	message := "Rate limit exceeded for this client address"
	if tier == gate.TierCorrelation {
		code = "CORRELATION_RATE_LIMITED"
		message = "Rate limit exceeded for this correlation id"
	}

	envelope := errors.NewErrorEnvelope(code, message)
	return envelope.WithDetails(map[string]interface{}{
		"tier":                string(tier),
		"retry_after_seconds": gate.RetryAfterSeconds(retryAfter),
	})
}

// Server errors (500-level)
func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INTERNAL_ERROR", message)
}

func NewDatabaseError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("DATABASE_ERROR", message)
}

func NewExternalServiceError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("EXTERNAL_SERVICE_ERROR", message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("CONFIG_INVALID", message)
}

// Wrap helpers attach correlation ids from the request context to an
// envelope built around an existing error.

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrapWithContext(ctx, "INTERNAL_ERROR", err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrapWithContext(ctx, "DATABASE_ERROR", err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrapWithContext(ctx, "CONFIG_INVALID", err, message)
}

func wrapWithContext(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	return withWrappedError(envelope, err)
}

// extractCorrelationID gets the correlation id from the request context,
// falling back to a generated id so every envelope stays traceable.
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetCorrelationID(ctx); id != "" {
			return id
		}
	}
	return gate.NewCorrelationID()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation id to the envelope from the
// context when one is not already present.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}
	if envelope.CorrelationID != "" {
		return envelope
	}

	var id string
	if ctx != nil {
		id = middleware.GetCorrelationID(ctx)
	}
	if id == "" {
		id = gate.NewCorrelationID()
	}

	return envelope.WithCorrelationID(id)
}

// HTTPStatusFromEnvelope resolves the HTTP status code for an envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code for an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case "INVALID_INPUT", "MISSING_CORRELATION_ID", "INVALID_CORRELATION_ID":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "METHOD_NOT_ALLOWED":
		return http.StatusMethodNotAllowed
	case "CLIENT_RATE_LIMITED", "CORRELATION_RATE_LIMITED":
		return http.StatusTooManyRequests
	case "NOT_IMPLEMENTED":
		return http.StatusNotImplemented
	case "EXTERNAL_SERVICE_ERROR":
		return http.StatusBadGateway
	case "SERVICE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs an API-safe details map by merging envelope
// details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})
	for key, value := range envelope.Details {
		details[key] = value
	}
	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting
// metrics. Rate-limit envelopes additionally get a Retry-After header from
// their details.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	if statusCode == http.StatusTooManyRequests {
		if secs, ok := retryAfterFromDetails(envelope); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterFromDetails(envelope *errors.ErrorEnvelope) (int, bool) {
	if envelope == nil || envelope.Details == nil {
		return 0, false
	}
	switch v := envelope.Details["retry_after_seconds"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}
}
