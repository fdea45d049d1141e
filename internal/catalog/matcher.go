// Package catalog maps resolved display names to an external identifier
// catalog using alias expansion, state-qualified preference, and tiered
// fuzzy matching.
package catalog

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/normalize"
)

// Entry is one record of the external identifier catalog.
type Entry struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	UtilityType model.UtilityType `yaml:"utility_type"`
	State       string            `yaml:"state"`
	Contact     string            `yaml:"contact"`
}

// Match is a successful catalog resolution. A missing match is reported
// separately: "no catalog entry" is an explicit state, not a nil.
type Match struct {
	CatalogID string
	Score     float64
	Confident bool
	Method    string
}

// Match methods, for audit records.
const (
	MethodOverride   = "manual_override"
	MethodExact      = "exact"
	MethodExpanded   = "alias_expansion"
	MethodTruncation = "truncation"
	MethodFuzzy      = "fuzzy"
	MethodFuzzyLoose = "fuzzy_loose"
)

// abbreviations expands tokens common in catalog titles. Applied to both
// sides before comparison.
var abbreviations = map[string]string{
	"ELEC":  "ELECTRIC",
	"PWR":   "POWER",
	"COOP":  "COOPERATIVE",
	"CO-OP": "COOPERATIVE",
	"ASSN":  "ASSOCIATION",
	"ASSOC": "ASSOCIATION",
	"DEPT":  "DEPARTMENT",
	"AUTH":  "AUTHORITY",
	"DIST":  "DISTRICT",
	"UTIL":  "UTILITIES",
	"SVC":   "SERVICE",
	"SVCS":  "SERVICES",
	"WTR":   "WATER",
	"MUN":   "MUNICIPAL",
	"MTN":   "MOUNTAIN",
	"VLY":   "VALLEY",
	"EMC":   "ELECTRIC MEMBERSHIP CORPORATION",
	"REA":   "RURAL ELECTRIC ASSOCIATION",
	"PUD":   "PUBLIC UTILITY DISTRICT",
	"MUD":   "MUNICIPAL UTILITY DISTRICT",
}

// minTruncationLen gates prefix-truncation matching; shorter prefixes
// collide too easily.
const minTruncationLen = 10

type catalogFile struct {
	Entries []Entry `yaml:"entries"`
}

type overridesFile struct {
	Overrides []struct {
		Name        string            `yaml:"name"`
		UtilityType model.UtilityType `yaml:"utility_type"`
		CatalogID   string            `yaml:"catalog_id"`
	} `yaml:"overrides"`
}

// Matcher resolves display names against the catalog. Read-only after
// construction.
type Matcher struct {
	byType    map[model.UtilityType][]*Entry
	byExact   map[string]*Entry // type|expanded title
	overrides map[string]string // type|cleaned name -> catalog id
	strict    float64
	loose     float64
}

// NewMatcher builds a Matcher from loaded entries and overrides.
func NewMatcher(entries []Entry, overrides map[string]string, strict, loose float64) *Matcher {
	if strict <= 0 {
		strict = 0.90
	}
	if loose <= 0 {
		loose = 0.80
	}
	m := &Matcher{
		byType:    make(map[model.UtilityType][]*Entry),
		byExact:   make(map[string]*Entry),
		overrides: overrides,
		strict:    strict,
		loose:     loose,
	}
	for i := range entries {
		e := &entries[i]
		m.byType[e.UtilityType] = append(m.byType[e.UtilityType], e)
		m.byExact[string(e.UtilityType)+"|"+expand(normalize.Clean(e.Title))] = e
	}
	return m
}

// Load reads the catalog and override files. A missing overrides file is
// fine; a missing catalog is not.
func Load(catalogPath, overridesPath string) ([]Entry, map[string]string, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "catalog: read %s", catalogPath)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, nil, eris.Wrap(err, "catalog: parse")
	}

	overrides := make(map[string]string)
	if overridesPath != "" {
		odata, oerr := os.ReadFile(overridesPath)
		if oerr != nil && !os.IsNotExist(oerr) {
			return nil, nil, eris.Wrapf(oerr, "catalog: read overrides %s", overridesPath)
		}
		if oerr == nil {
			var of overridesFile
			if uerr := yaml.Unmarshal(odata, &of); uerr != nil {
				return nil, nil, eris.Wrap(uerr, "catalog: parse overrides")
			}
			for _, o := range of.Overrides {
				overrides[string(o.UtilityType)+"|"+normalize.Clean(o.Name)] = o.CatalogID
			}
		}
	}
	return cf.Entries, overrides, nil
}

// MatchName resolves a display name to a catalog identifier. The manual
// override table always wins regardless of score. Returns ok=false for the
// explicit no-match state.
func (m *Matcher) MatchName(displayName string, t model.UtilityType, state string) (Match, bool) {
	cleaned := normalize.Clean(displayName)
	if cleaned == "" {
		return Match{}, false
	}

	// Manual overrides outrank everything, including exact matches.
	if id, ok := m.overrides[string(t)+"|"+cleaned]; ok {
		return Match{CatalogID: id, Score: 1, Confident: true, Method: MethodOverride}, true
	}

	if e, ok := m.byExact[string(t)+"|"+cleaned]; ok {
		return Match{CatalogID: e.ID, Score: 1, Confident: true, Method: MethodExact}, true
	}

	expanded := expand(cleaned)
	if e, ok := m.byExact[string(t)+"|"+expanded]; ok {
		return Match{CatalogID: e.ID, Score: 0.97, Confident: true, Method: MethodExpanded}, true
	}

	entries := m.byType[t]

	// Truncated catalog titles: one expanded name a long prefix of the other.
	for _, e := range entries {
		et := expand(normalize.Clean(e.Title))
		if truncationMatch(expanded, et) {
			return Match{CatalogID: e.ID, Score: 0.92, Confident: true, Method: MethodTruncation}, true
		}
	}

	// Fuzzy pass 1: strict cutoff, state-qualified entries preferred.
	if e, score := m.bestFuzzy(expanded, entries, state, true); e != nil && score >= m.strict {
		return Match{CatalogID: e.ID, Score: score, Confident: true, Method: MethodFuzzy}, true
	}

	// Fuzzy pass 2: loose cutoff over the full set, not confident.
	if e, score := m.bestFuzzy(expanded, entries, state, false); e != nil && score >= m.loose {
		return Match{CatalogID: e.ID, Score: score, Confident: false, Method: MethodFuzzyLoose}, true
	}

	return Match{}, false
}

// bestFuzzy scans entries for the highest similarity. When stateOnly is
// set, only entries matching the state (by registered state or a whole
// title token) are considered.
func (m *Matcher) bestFuzzy(expanded string, entries []*Entry, state string, stateOnly bool) (*Entry, float64) {
	var best *Entry
	var bestScore float64
	for _, e := range entries {
		if stateOnly && state != "" && !entryMatchesState(e, state) {
			continue
		}
		score := normalize.Similarity(expanded, expand(normalize.Clean(e.Title)))
		if score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore
}

// entryMatchesState applies whole-token state matching: a 2-letter code
// must never match inside an unrelated word.
func entryMatchesState(e *Entry, state string) bool {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state == "" {
		return false
	}
	if strings.EqualFold(e.State, state) {
		return true
	}
	for _, tok := range normalize.Tokens(normalize.Clean(e.Title)) {
		if tok == state {
			return true
		}
	}
	return false
}

func truncationMatch(a, b string) bool {
	if len(a) < minTruncationLen || len(b) < minTruncationLen {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// expand rewrites known abbreviations token by token.
func expand(cleaned string) string {
	toks := normalize.Tokens(cleaned)
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if full, ok := abbreviations[tok]; ok {
			out = append(out, full)
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}
