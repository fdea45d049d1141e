// Package model defines the core domain types shared across the resolution engine.
package model

import (
	"strings"
	"time"
)

// UtilityType identifies one of the supported utility services.
type UtilityType string

// Supported utility types.
const (
	Electric UtilityType = "electric"
	Gas      UtilityType = "gas"
	Water    UtilityType = "water"
	Sewer    UtilityType = "sewer"
)

// AllUtilityTypes lists every supported utility type in canonical order.
func AllUtilityTypes() []UtilityType {
	return []UtilityType{Electric, Gas, Water, Sewer}
}

// Valid reports whether t is one of the supported utility types.
func (t UtilityType) Valid() bool {
	switch t {
	case Electric, Gas, Water, Sewer:
		return true
	}
	return false
}

// Precision is the geographic specificity of a candidate match.
// Ordering matters: Point is the most specific, State the least.
type Precision int

const (
	// PrecisionState means the match is only state-wide.
	PrecisionState Precision = iota
	// PrecisionCounty means the match covers a whole county.
	PrecisionCounty
	// PrecisionZip5 means the match covers a 5-digit ZIP area.
	PrecisionZip5
	// PrecisionPoint means the match was made at the exact coordinates.
	PrecisionPoint
)

func (p Precision) String() string {
	switch p {
	case PrecisionPoint:
		return "point"
	case PrecisionZip5:
		return "zip5"
	case PrecisionCounty:
		return "county"
	case PrecisionState:
		return "state"
	default:
		return "unknown"
	}
}

// OperatorType classifies a provider's ownership structure. Local operator
// types (cooperative, municipal) are favored in overlap resolution when a
// regional polygon is implausibly large at the query point.
type OperatorType string

// Operator types carried on geometry layer features.
const (
	OperatorCooperative OperatorType = "cooperative"
	OperatorMunicipal   OperatorType = "municipal"
	OperatorInvestor    OperatorType = "investor_owned"
	OperatorDistrict    OperatorType = "special_district"
	OperatorUnknown     OperatorType = ""
)

// Local reports whether the operator type counts as a local operator for
// overlap precedence.
func (o OperatorType) Local() bool {
	return o == OperatorCooperative || o == OperatorMunicipal || o == OperatorDistrict
}

// GeocodedAddress is the output of the geocoder chain for one address.
// Created once per lookup and immutable afterwards.
type GeocodedAddress struct {
	InputAddress   string  `json:"input_address"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	MatchedAddress string  `json:"matched_address,omitempty"`
	City           string  `json:"city,omitempty"`
	County         string  `json:"county,omitempty"`
	State          string  `json:"state,omitempty"`
	Zip5           string  `json:"zip5,omitempty"`
	CensusBlockID  string  `json:"census_block_id,omitempty"`
	Source         string  `json:"source"`
	Quality        string  `json:"quality,omitempty"` // rooftop, range, centroid, unknown
	Confidence     float64 `json:"confidence"`
	Matched        bool    `json:"matched"`
}

// Candidate is one source's proposed provider for one utility type at one
// location. Candidates are never mutated after the source produces them;
// resolution attaches derived fields on copies.
type Candidate struct {
	SourceName     string      `json:"source_name"`
	UtilityType    UtilityType `json:"utility_type"`
	RawName        string      `json:"raw_provider_name"`
	BaseConfidence float64     `json:"base_confidence"` // source-tier score, 0-100
	Precision      Precision   `json:"match_precision"`

	// Geometry attributes, present only for polygon-backed sources.
	AreaKM2       float64      `json:"geometry_area_km2,omitempty"`
	CustomerCount int          `json:"customer_count,omitempty"`
	OperatorType  OperatorType `json:"operator_type,omitempty"`

	State       string            `json:"state,omitempty"`
	RegulatorID string            `json:"regulator_id,omitempty"`
	Attributes  map[string]string `json:"raw_attributes,omitempty"`

	// DirectConfidence marks a candidate whose confidence was set directly
	// by a correction override and must bypass boost and reclamping.
	DirectConfidence bool `json:"direct_confidence,omitempty"`

	// Resolution output, attached by the normalizer.
	CanonicalID string  `json:"canonical_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	MatchMethod string  `json:"match_method,omitempty"`
	MatchScore  float64 `json:"match_score,omitempty"`

	// AgreeingSources is attached by dedup: names of every source that
	// resolved to the same canonical provider, winner included.
	AgreeingSources []string `json:"agreeing_sources,omitempty"`
}

// Resolved reports whether the candidate was mapped to a canonical provider.
func (c Candidate) Resolved() bool { return c.CanonicalID != "" }

// GroupKey returns the dedup grouping key: canonical_id when resolved,
// otherwise the lowercased cleaned name, so passthrough candidates still
// corroborate across sources that case the same provider differently.
func (c Candidate) GroupKey() string {
	if c.CanonicalID != "" {
		return c.CanonicalID
	}
	name := c.DisplayName
	if name == "" {
		name = c.RawName
	}
	return "raw:" + strings.ToLower(name)
}

// CanonicalProvider is one entry in the canonical provider registry.
// Loaded once at startup, read-only thereafter.
type CanonicalProvider struct {
	CanonicalID   string      `yaml:"canonical_id" json:"canonical_id"`
	DisplayName   string      `yaml:"display_name" json:"display_name"`
	Aliases       []string    `yaml:"aliases" json:"aliases,omitempty"`
	RegulatorID   string      `yaml:"regulator_id" json:"regulator_id,omitempty"`
	ParentCompany string      `yaml:"parent_company" json:"parent_company,omitempty"`
	State         string      `yaml:"state" json:"state,omitempty"`
	UtilityType   UtilityType `yaml:"utility_type" json:"utility_type"`
}

// ConfidenceLevel is the qualitative confidence bucket for a resolution.
type ConfidenceLevel string

// Confidence levels, mapped from the numeric score by the single
// authoritative cutoff table in the score package.
const (
	LevelHigh   ConfidenceLevel = "high"
	LevelMedium ConfidenceLevel = "medium"
	LevelLow    ConfidenceLevel = "low"
	LevelNone   ConfidenceLevel = "none"
)

// ConfidenceFactor is one additive term in the confidence breakdown.
type ConfidenceFactor struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Detail string  `json:"detail,omitempty"`
}

// Alternative is a non-winning resolution, ranked below the primary.
type Alternative struct {
	CanonicalID string  `json:"canonical_id,omitempty"`
	DisplayName string  `json:"display_name"`
	Confidence  int     `json:"confidence_score"`
	Source      string  `json:"source"`
	Score       float64 `json:"overlap_score,omitempty"`
}

// ResolvedResult is the final answer for one utility type at one address.
type ResolvedResult struct {
	UtilityType        UtilityType        `json:"utility_type"`
	CanonicalID        string             `json:"canonical_id,omitempty"`
	DisplayName        string             `json:"display_name,omitempty"`
	ConfidenceScore    int                `json:"confidence_score"`
	ConfidenceLevel    ConfidenceLevel    `json:"confidence_level"`
	SelectionReason    string             `json:"selection_reason"`
	Factors            []ConfidenceFactor `json:"confidence_factors,omitempty"`
	AgreeingSources    []string           `json:"agreeing_sources,omitempty"`
	DisagreeingSources []string           `json:"disagreeing_sources,omitempty"`
	Alternatives       []Alternative      `json:"alternatives,omitempty"`
	NeedsReview        bool               `json:"needs_review"`
	CatalogID          string             `json:"catalog_id,omitempty"`
	CatalogMatchScore  float64            `json:"catalog_match_score,omitempty"`
	CatalogMatched     bool               `json:"catalog_matched"`
}

// LookupResult is the full output of one address lookup.
type LookupResult struct {
	ID        string                          `json:"id"`
	Address   string                          `json:"address"`
	Geocode   *GeocodedAddress                `json:"geocode,omitempty"`
	Results   map[UtilityType]*ResolvedResult `json:"results"`
	LatencyMS int64                           `json:"latency_ms"`
	Timestamp time.Time                       `json:"timestamp"`
	CacheHit  bool                            `json:"cache_hit,omitempty"`
}
