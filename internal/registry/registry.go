// Package registry loads and validates the canonical provider registry.
//
// The registry is the single source of provider identity: every component
// resolves names through it, never through local mapping tables. It is
// loaded once at startup and read-only for the process lifetime.
package registry

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/gridseek/utility-cli/internal/model"
)

// ErrIntegrity wraps load-time data integrity violations: alias collisions
// and blocklisted names reachable as display values. These are fatal at
// startup and never silently resolved by load order.
var ErrIntegrity = eris.New("registry: data integrity violation")

// registryFile is the on-disk registry document.
type registryFile struct {
	Version   string                    `yaml:"version"`
	Providers []model.CanonicalProvider `yaml:"providers"`
}

// blocklistFile is the on-disk blocklist of parent/holding entity names that
// must never surface as a display value.
type blocklistFile struct {
	Blocked []string `yaml:"blocked"`
}

// Registry is the validated, immutable canonical provider registry.
type Registry struct {
	version   string
	providers []model.CanonicalProvider

	byID        map[string]*model.CanonicalProvider // utility|id
	byAlias     map[string]*model.CanonicalProvider // utility|alias
	byRegulator map[string]*model.CanonicalProvider // utility|regulator_id
	byType      map[model.UtilityType][]*model.CanonicalProvider

	blocked map[string]bool
}

// Load reads and validates the registry and blocklist files.
func Load(path, blocklistPath string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var blocked []string
	if blocklistPath != "" {
		bdata, berr := os.ReadFile(blocklistPath)
		if berr != nil {
			return nil, eris.Wrapf(berr, "registry: read blocklist %s", blocklistPath)
		}
		var bf blocklistFile
		if uerr := yaml.Unmarshal(bdata, &bf); uerr != nil {
			return nil, eris.Wrap(uerr, "registry: parse blocklist")
		}
		blocked = bf.Blocked
	}

	return Parse(data, blocked)
}

// Parse builds a Registry from raw YAML and a blocklist. Exposed for tests
// and for tooling that validates candidate registry files before rollout.
func Parse(data []byte, blocklist []string) (*Registry, error) {
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrap(err, "registry: parse")
	}

	r := &Registry{
		version:     rf.Version,
		providers:   rf.Providers,
		byID:        make(map[string]*model.CanonicalProvider),
		byAlias:     make(map[string]*model.CanonicalProvider),
		byRegulator: make(map[string]*model.CanonicalProvider),
		byType:      make(map[model.UtilityType][]*model.CanonicalProvider),
		blocked:     make(map[string]bool, len(blocklist)),
	}
	for _, b := range blocklist {
		r.blocked[foldKey(b)] = true
	}

	var violations []string
	for i := range r.providers {
		p := &r.providers[i]

		if p.CanonicalID == "" || p.DisplayName == "" {
			violations = append(violations, "entry missing canonical_id or display_name: "+p.CanonicalID+p.DisplayName)
			continue
		}
		if !p.UtilityType.Valid() {
			violations = append(violations, p.CanonicalID+": invalid utility_type "+string(p.UtilityType))
			continue
		}

		if r.blocked[foldKey(p.DisplayName)] {
			violations = append(violations, p.CanonicalID+": blocklisted display_name "+p.DisplayName)
		}

		idKey := typeKey(p.UtilityType, p.CanonicalID)
		if prev, dup := r.byID[idKey]; dup {
			violations = append(violations, "duplicate canonical_id "+p.CanonicalID+" ("+prev.DisplayName+", "+p.DisplayName+")")
			continue
		}
		r.byID[idKey] = p
		r.byType[p.UtilityType] = append(r.byType[p.UtilityType], p)

		if p.RegulatorID != "" {
			r.byRegulator[typeKey(p.UtilityType, p.RegulatorID)] = p
		}

		// The display name is always reachable as an alias of itself.
		names := append([]string{p.DisplayName}, p.Aliases...)
		for _, alias := range names {
			key := typeKey(p.UtilityType, alias)
			if r.blocked[foldKey(alias)] {
				violations = append(violations, p.CanonicalID+": blocklisted alias "+alias)
				continue
			}
			if prev, dup := r.byAlias[key]; dup && prev.CanonicalID != p.CanonicalID {
				violations = append(violations,
					"alias "+alias+" ("+string(p.UtilityType)+") maps to both "+prev.CanonicalID+" and "+p.CanonicalID)
				continue
			}
			r.byAlias[key] = p
		}
	}

	if len(violations) > 0 {
		return nil, eris.Wrap(ErrIntegrity, strings.Join(violations, "; "))
	}
	return r, nil
}

// Version returns the registry document version.
func (r *Registry) Version() string { return r.version }

// Len returns the number of canonical providers.
func (r *Registry) Len() int { return len(r.providers) }

// ByID returns the provider registered under canonical_id for the type.
func (r *Registry) ByID(t model.UtilityType, id string) (*model.CanonicalProvider, bool) {
	p, ok := r.byID[typeKey(t, id)]
	return p, ok
}

// ByAlias returns the provider whose display name or alias matches name
// case-insensitively.
func (r *Registry) ByAlias(t model.UtilityType, name string) (*model.CanonicalProvider, bool) {
	p, ok := r.byAlias[typeKey(t, name)]
	return p, ok
}

// ByRegulatorID returns the provider carrying the given regulator-assigned
// identifier. Regulator IDs are immune to name drift and preferred over any
// name-based match.
func (r *Registry) ByRegulatorID(t model.UtilityType, regID string) (*model.CanonicalProvider, bool) {
	p, ok := r.byRegulator[typeKey(t, regID)]
	return p, ok
}

// ForType returns every provider of the given utility type.
func (r *Registry) ForType(t model.UtilityType) []*model.CanonicalProvider {
	return r.byType[t]
}

// Blocked reports whether name is a blocklisted parent/holding entity.
func (r *Registry) Blocked(name string) bool {
	return r.blocked[foldKey(name)]
}

func typeKey(t model.UtilityType, s string) string {
	return string(t) + "|" + foldKey(s)
}

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
