// Package geocode turns street addresses into coordinates using an ordered
// provider chain with plausibility checks between hops.
package geocode

import (
	"context"
	"regexp"
	"strings"

	"github.com/gridseek/utility-cli/internal/model"
)

// Address is one address to geocode.
type Address struct {
	ID     string // optional, for batch correlation
	Street string
	City   string
	State  string
	Zip5   string
}

// OneLine formats the address as a single comma-joined line.
func (a Address) OneLine() string {
	parts := []string{a.Street, a.City, a.State, a.Zip5}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

var (
	zipRe   = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\s*$`)
	stateRe = regexp.MustCompile(`\b([A-Za-z]{2})\b[,\s]*$`)
)

// stateCodes guards the trailing two-letter token: without it, street
// suffixes like "St" or "Dr" at the end of a line parse as states.
var stateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "DC": true, "FL": true, "GA": true, "HI": true,
	"ID": true, "IL": true, "IN": true, "IA": true, "KS": true, "KY": true,
	"LA": true, "ME": true, "MD": true, "MA": true, "MI": true, "MN": true,
	"MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true,
	"NJ": true, "NM": true, "NY": true, "NC": true, "ND": true, "OH": true,
	"OK": true, "OR": true, "PA": true, "RI": true, "SC": true, "SD": true,
	"TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true, "PR": true, "VI": true, "GU": true,
}

// ParseOneLine splits a free-form address line on commas into the structured
// form the providers want. Best effort: unrecognized tails stay in Street.
func ParseOneLine(line string) Address {
	a := Address{}
	rest := strings.TrimSpace(line)

	if m := zipRe.FindStringSubmatch(rest); m != nil {
		a.Zip5 = m[1]
		rest = strings.TrimSpace(strings.TrimSuffix(rest, m[0]))
		rest = strings.TrimRight(rest, ", ")
	}
	if m := stateRe.FindStringSubmatch(rest); m != nil && stateCodes[strings.ToUpper(m[1])] {
		a.State = strings.ToUpper(m[1])
		rest = strings.TrimSpace(rest[:len(rest)-len(m[0])])
		rest = strings.TrimRight(rest, ", ")
	}

	parts := strings.Split(rest, ",")
	switch len(parts) {
	case 0:
	case 1:
		a.Street = strings.TrimSpace(parts[0])
	default:
		a.City = strings.TrimSpace(parts[len(parts)-1])
		a.Street = strings.TrimSpace(strings.Join(parts[:len(parts)-1], ","))
	}
	return a
}

// Provider is one geocoding backend in the chain.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr Address) (*model.GeocodedAddress, error)
}

// BatchProvider is a Provider with a native bulk endpoint.
type BatchProvider interface {
	Provider
	GeocodeBatch(ctx context.Context, addrs []Address) ([]model.GeocodedAddress, error)
}

// qualityConfidence maps the shared quality taxonomy to a 0-1 confidence.
func qualityConfidence(quality string) float64 {
	switch quality {
	case "rooftop":
		return 0.95
	case "range":
		return 0.85
	case "centroid":
		return 0.70
	default:
		return 0.50
	}
}
