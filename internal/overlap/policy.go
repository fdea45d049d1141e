// Package overlap breaks ties when multiple territory polygons or sources
// claim the same point for one utility type.
package overlap

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/gridseek/utility-cli/internal/model"
)

// Policy is the declarative tie-break table. Regional precedence rules live
// here as data, keyed by region, so they stay independently testable and
// auditable instead of hard-coded per operator.
type Policy struct {
	Defaults Defaults     `yaml:"defaults"`
	Regions  []RegionRule `yaml:"regions"`
}

// Defaults holds the general area/customer heuristic thresholds. These were
// tuned against a held-out address sample; treat them as configuration.
type Defaults struct {
	// LargeAreaKM2 marks a polygon as suspiciously over-generalized.
	LargeAreaKM2 float64 `yaml:"large_area_km2"`
	// HugeAreaKM2 marks a polygon as almost certainly over-generalized.
	HugeAreaKM2 float64 `yaml:"huge_area_km2"`
	// LocalAreaCeilingKM2 is the maximum area for the local-operator-first
	// rule to apply.
	LocalAreaCeilingKM2 float64 `yaml:"local_area_ceiling_km2"`
	// MinCustomerCount is the verified customer count required for a small
	// polygon to earn the small-area reward.
	MinCustomerCount int `yaml:"min_customer_count"`
	// LocalTypeWeight mildly favors cooperative/municipal operators.
	LocalTypeWeight float64 `yaml:"local_type_weight"`
	// RegionalTypeWeight mildly penalizes large regional operators whose
	// polygon is implausibly large at the query point.
	RegionalTypeWeight float64 `yaml:"regional_type_weight"`
}

// RegionRule pins a fixed operator precedence for a jurisdiction with known
// boundary overlaps from upstream data generalization.
type RegionRule struct {
	Region      string            `yaml:"region"` // state code, optionally "STATE|county"
	UtilityType model.UtilityType `yaml:"utility_type"`
	Precedence  []string          `yaml:"precedence"` // canonical_ids, highest first
}

// DefaultPolicy returns the built-in policy used when no file is configured.
func DefaultPolicy() Policy {
	return Policy{Defaults: Defaults{
		LargeAreaKM2:        50_000,
		HugeAreaKM2:         120_000,
		LocalAreaCeilingKM2: 5_000,
		MinCustomerCount:    10_000,
		LocalTypeWeight:     1.10,
		RegionalTypeWeight:  0.90,
	}}
}

// LoadPolicy reads a policy file, filling unset defaults from
// DefaultPolicy. A missing file yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Policy{}, eris.Wrapf(err, "overlap: read policy %s", path)
	}

	var loaded Policy
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Policy{}, eris.Wrap(err, "overlap: parse policy")
	}

	d := DefaultPolicy().Defaults
	if loaded.Defaults.LargeAreaKM2 <= 0 {
		loaded.Defaults.LargeAreaKM2 = d.LargeAreaKM2
	}
	if loaded.Defaults.HugeAreaKM2 <= 0 {
		loaded.Defaults.HugeAreaKM2 = d.HugeAreaKM2
	}
	if loaded.Defaults.LocalAreaCeilingKM2 <= 0 {
		loaded.Defaults.LocalAreaCeilingKM2 = d.LocalAreaCeilingKM2
	}
	if loaded.Defaults.MinCustomerCount <= 0 {
		loaded.Defaults.MinCustomerCount = d.MinCustomerCount
	}
	if loaded.Defaults.LocalTypeWeight <= 0 {
		loaded.Defaults.LocalTypeWeight = d.LocalTypeWeight
	}
	if loaded.Defaults.RegionalTypeWeight <= 0 {
		loaded.Defaults.RegionalTypeWeight = d.RegionalTypeWeight
	}
	return loaded, nil
}

// precedenceFor returns the fixed precedence list for the region and type,
// if one is configured. County-level rules win over state-level rules.
func (p Policy) precedenceFor(region RegionContext, t model.UtilityType) []string {
	countyKey := strings.ToUpper(region.State) + "|" + strings.ToLower(region.County)
	stateKey := strings.ToUpper(region.State)

	var stateRule []string
	for _, r := range p.Regions {
		if r.UtilityType != t {
			continue
		}
		switch strings.ToUpper(r.Region) {
		case strings.ToUpper(countyKey):
			if region.County != "" {
				return r.Precedence
			}
		case stateKey:
			stateRule = r.Precedence
		}
	}
	return stateRule
}
