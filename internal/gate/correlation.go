// Package gate implements the request gating core: correlation id
// resolution and dual-tier fixed-window rate limiting. It has no
// dependency on net/http; the HTTP adapters live in
// internal/server/middleware.
package gate

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// DefaultHeader is the request/response header carrying the correlation id.
const DefaultHeader = "X-Correlation-ID"

var (
	// ErrMissingCorrelationID is returned when a non-exempt path carries no
	// correlation header.
	ErrMissingCorrelationID = errors.New("correlation id header is required")

	// ErrInvalidCorrelationID is returned when the supplied header value is
	// not a canonical UUID.
	ErrInvalidCorrelationID = errors.New("correlation id must be a valid UUID")
)

// Resolver validates or generates per-request correlation ids.
//
// Exempt paths never fail resolution: a missing or malformed header is
// replaced by a freshly generated id. All other paths require a canonical
// UUID in the header.
type Resolver struct {
	header string
	exempt map[string]struct{}
}

// NewResolver builds a resolver for the given header name and exact-match
// exempt path set.
func NewResolver(header string, exemptPaths []string) *Resolver {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}

	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		exempt[path] = struct{}{}
	}

	return &Resolver{header: header, exempt: exempt}
}

// Header returns the configured correlation header name.
func (r *Resolver) Header() string {
	return r.header
}

// Exempt reports whether a path bypasses the mandatory-presence rule.
// Matching is exact, not prefix based.
func (r *Resolver) Exempt(path string) bool {
	_, ok := r.exempt[path]
	return ok
}

// Resolve validates or generates the correlation id for a request.
//
// headerValue is the raw header value, empty when the header was absent.
// The returned id is always in lowercase canonical form.
func (r *Resolver) Resolve(path, headerValue string) (string, error) {
	headerValue = strings.TrimSpace(headerValue)

	if r.Exempt(path) {
		if ValidCorrelationID(headerValue) {
			return strings.ToLower(headerValue), nil
		}
		return NewCorrelationID(), nil
	}

	if headerValue == "" {
		return "", ErrMissingCorrelationID
	}
	if !ValidCorrelationID(headerValue) {
		return "", ErrInvalidCorrelationID
	}

	return strings.ToLower(headerValue), nil
}

// ValidCorrelationID reports whether s is a UUID in the canonical hyphenated
// 8-4-4-4-12 form, case-insensitive. uuid.Parse alone also admits braced,
// URN-prefixed and 32-digit forms, which the wire contract excludes, hence
// the explicit length check.
func ValidCorrelationID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NewCorrelationID generates a fresh random correlation id in lowercase
// canonical form.
func NewCorrelationID() string {
	return uuid.New().String()
}
