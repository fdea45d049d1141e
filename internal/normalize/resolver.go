package normalize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/registry"
)

// fuzzyFloor is the minimum similarity for a generic fuzzy match. A false
// match silently corrupts downstream agreement counting, so this is a hard
// constant rather than configuration.
const fuzzyFloor = 0.85

// stateFuzzyFloor applies to state-qualified fuzzy matching, where the state
// hint already restricts the candidate set.
const stateFuzzyFloor = 0.82

// minSubstringLen gates substring resolution: an alias shorter than this
// cleaned length is too likely to appear inside unrelated free text.
const minSubstringLen = 8

// Resolution methods, in descending trust order.
const (
	MethodExact       = "exact"
	MethodRegulatorID = "regulator_id"
	MethodFuzzyState  = "fuzzy_state"
	MethodFuzzy       = "fuzzy"
	MethodSubstring   = "substring"
	MethodPassthrough = "passthrough"
)

// Match is the outcome of resolving one raw name.
type Match struct {
	CanonicalID string
	DisplayName string
	Method      string
	Score       float64
}

// Resolved reports whether the raw name mapped to a canonical provider.
// A passthrough match keeps a cleaned display name but no identity.
func (m Match) Resolved() bool { return m.CanonicalID != "" }

// Resolver canonicalizes raw provider names against the registry.
type Resolver struct {
	reg *registry.Registry
}

// NewResolver creates a Resolver backed by the given registry.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve maps a raw provider name to a canonical identity. regulatorID may
// be empty; stateHint biases fuzzy matching toward providers registered in
// that state. A name that resolves nowhere passes through cleaned and
// suffix-stripped, flagged for registry review.
func (r *Resolver) Resolve(rawName string, t model.UtilityType, stateHint, regulatorID string) Match {
	raw := strings.TrimSpace(rawName)
	cleaned := Clean(raw)

	// 1. Exact case-insensitive match on canonical_id or alias, tried on
	// both the raw and cleaned forms.
	for _, name := range []string{raw, cleaned} {
		if name == "" {
			continue
		}
		if p, ok := r.reg.ByID(t, name); ok {
			return exactMatch(p)
		}
		if p, ok := r.reg.ByAlias(t, name); ok {
			return exactMatch(p)
		}
	}

	// 2. Regulator-assigned ID, immune to name drift.
	if regulatorID != "" {
		if p, ok := r.reg.ByRegulatorID(t, regulatorID); ok {
			return Match{CanonicalID: p.CanonicalID, DisplayName: p.DisplayName, Method: MethodRegulatorID, Score: 1}
		}
	}

	if cleaned == "" {
		return Match{Method: MethodPassthrough}
	}

	// 3. State-qualified fuzzy match.
	if stateHint != "" {
		if m, ok := r.bestFuzzy(cleaned, t, stateHint, stateFuzzyFloor); ok {
			m.Method = MethodFuzzyState
			return m
		}
	}

	// 4. Generic token-similarity fuzzy match above the conservative floor.
	if m, ok := r.bestFuzzy(cleaned, t, "", fuzzyFloor); ok {
		m.Method = MethodFuzzy
		return m
	}

	// 5. Substring match for names embedded in free text.
	if m, ok := r.substring(cleaned, t); ok {
		return m
	}

	// 6. Passthrough: cleaned name, no canonical identity.
	zap.L().Debug("normalize: passthrough, flagged for registry review",
		zap.String("raw_name", raw),
		zap.String("utility_type", string(t)),
	)
	return Match{DisplayName: StripSuffix(raw), Method: MethodPassthrough}
}

// bestFuzzy scans providers of the type and returns the best similarity at
// or above floor. When state is non-empty only providers registered in that
// state are considered.
func (r *Resolver) bestFuzzy(cleaned string, t model.UtilityType, state string, floor float64) (Match, bool) {
	var best Match
	for _, p := range r.reg.ForType(t) {
		if state != "" && !strings.EqualFold(p.State, state) {
			continue
		}
		for _, alias := range providerNames(p) {
			sim := Similarity(cleaned, Clean(alias))
			if sim > best.Score {
				best = Match{CanonicalID: p.CanonicalID, DisplayName: p.DisplayName, Score: sim}
			}
		}
	}
	if best.Score >= floor {
		return best, true
	}
	return Match{}, false
}

// substring resolves names embedded in longer free text ("served by Pacific
// Power under tariff..."). The alias must meet the minimum cleaned length.
func (r *Resolver) substring(cleaned string, t model.UtilityType) (Match, bool) {
	padded := " " + cleaned + " "
	var best Match
	for _, p := range r.reg.ForType(t) {
		for _, alias := range providerNames(p) {
			ca := Clean(alias)
			if len(ca) < minSubstringLen {
				continue
			}
			if strings.Contains(padded, " "+ca+" ") && float64(len(ca)) > best.Score {
				// Prefer the longest embedded alias.
				best = Match{
					CanonicalID: p.CanonicalID,
					DisplayName: p.DisplayName,
					Method:      MethodSubstring,
					Score:       float64(len(ca)),
				}
			}
		}
	}
	if best.CanonicalID == "" {
		return Match{}, false
	}
	best.Score = 0.9 // substring hits are trusted but below exact
	return best, true
}

func exactMatch(p *model.CanonicalProvider) Match {
	return Match{CanonicalID: p.CanonicalID, DisplayName: p.DisplayName, Method: MethodExact, Score: 1}
}

func providerNames(p *model.CanonicalProvider) []string {
	return append([]string{p.DisplayName}, p.Aliases...)
}
