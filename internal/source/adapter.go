// Package source implements the candidate source adapters: geometry layers,
// live PostGIS territories, static ZIP and county tables, and manual
// correction overrides.
package source

import (
	"context"
	"time"

	"github.com/gridseek/utility-cli/internal/model"
)

// Adapter is one candidate source. Adapters are queried concurrently by the
// collector; a single adapter may return several candidates when territory
// polygons overlap at the query point.
type Adapter interface {
	// Name identifies the source in audit records and breaker state.
	Name() string
	// SupportedTypes lists the utility types the source can answer for.
	SupportedTypes() []model.UtilityType
	// BaseConfidence is the source-tier score (0-100). It reflects only how
	// trustworthy the source is, never geographic precision.
	BaseConfidence() float64
	// Timeout bounds a single query.
	Timeout() time.Duration
	// Query returns all candidates at the geocoded point, nil when the
	// source has no answer. Errors feed the source's circuit breaker.
	Query(ctx context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, error)
}

// Supports reports whether the adapter covers the utility type.
func Supports(a Adapter, t model.UtilityType) bool {
	for _, s := range a.SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}
