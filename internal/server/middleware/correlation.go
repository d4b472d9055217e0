package middleware

import (
	"context"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/metrics"
)

// correlationContextKey is a custom type to avoid context key collisions
type correlationContextKey string

const CorrelationIDContextKey correlationContextKey = "correlation_id"

// Correlation resolves the correlation id for each request before any
// other gate stage runs. Non-exempt paths must carry a canonical UUID in
// the correlation header; exempt paths get a generated id when the header
// is absent or malformed.
//
// The resolved id is set on the response header before the handler runs,
// so it reaches the caller on every outcome including errors.
func Correlation(resolver *gate.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID, err := resolver.Resolve(r.URL.Path, r.Header.Get(resolver.Header()))
			if err != nil {
				rejectCorrelation(w, resolver, err)
				return
			}

			w.Header().Set(resolver.Header(), correlationID)

			ctx := context.WithValue(r.Context(), CorrelationIDContextKey, correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rejectCorrelation writes the 400 envelope for a missing or malformed
// correlation header. The rejection itself gets a generated id so the
// response stays traceable.
func rejectCorrelation(w http.ResponseWriter, resolver *gate.Resolver, err error) {
	code := "MISSING_CORRELATION_ID"
	if errors.Is(err, gate.ErrInvalidCorrelationID) {
		code = "INVALID_CORRELATION_ID"
	}

	metrics.RecordGateRejection(code)

	generated := gate.NewCorrelationID()
	w.Header().Set(resolver.Header(), generated)

	envelope := gferrors.NewErrorEnvelope(code, err.Error()).
		WithCorrelationID(generated)
	writeErrorResponse(w, envelope, http.StatusBadRequest)
}

// GetCorrelationID retrieves the resolved correlation id from context.
// Returns empty when the request never passed the Correlation middleware.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(CorrelationIDContextKey).(string); ok {
		return correlationID
	}
	return ""
}
