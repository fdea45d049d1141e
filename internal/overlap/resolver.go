package overlap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/normalize"
)

// RegionContext locates the query point administratively for regional
// precedence rules.
type RegionContext struct {
	State  string
	County string
}

// Selection reasons surfaced in results and audit records.
const (
	ReasonSingleCandidate    = "single_candidate"
	ReasonLocalOperator      = "local_operator_precedence"
	ReasonRegionalPrecedence = "regional_precedence"
	ReasonAreaHeuristic      = "area_customer_heuristic"
)

// Resolver orders geometrically ambiguous candidates deterministically.
type Resolver struct {
	policy Policy
}

// NewResolver creates a Resolver with the given policy.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Score returns the general heuristic score for one candidate:
// base_confidence x area_weight x type_weight.
func (r *Resolver) Score(c model.Candidate) float64 {
	return c.BaseConfidence * r.areaWeight(c) * r.typeWeight(c)
}

// Resolve orders candidates best-first and names the rule that decided the
// ordering. Precedence: local-operator-first, then fixed regional order,
// then the general area/customer heuristic. The ordering is total and
// deterministic: ties fall back to the group key.
func (r *Resolver) Resolve(cands []model.Candidate, region RegionContext) ([]model.Candidate, string) {
	if len(cands) == 0 {
		return nil, ""
	}
	if len(cands) == 1 {
		return cands, ReasonSingleCandidate
	}

	t := cands[0].UtilityType

	// A small-area local operator with verified customers wins outright,
	// before any regional override applies.
	hasQualifyingLocal := false
	for _, c := range cands {
		if r.qualifiesLocal(c) {
			hasQualifyingLocal = true
			break
		}
	}

	precedence := r.policy.precedenceFor(region, t)

	type ranked struct {
		c        model.Candidate
		localWin bool
		precIdx  int // index in precedence list, len() when absent
		score    float64
	}

	rs := make([]ranked, len(cands))
	listed := 0
	for i, c := range cands {
		idx := precedenceIndex(precedence, c)
		if idx < len(precedence) {
			listed++
		}
		rs[i] = ranked{
			c:        c,
			localWin: hasQualifyingLocal && r.qualifiesLocal(c),
			precIdx:  idx,
			score:    r.Score(c),
		}
	}

	usePrecedence := !hasQualifyingLocal && listed > 0

	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.localWin != b.localWin {
			return a.localWin
		}
		if usePrecedence && a.precIdx != b.precIdx {
			return a.precIdx < b.precIdx
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.c.GroupKey() < b.c.GroupKey()
	})

	out := make([]model.Candidate, len(rs))
	for i, rk := range rs {
		out[i] = rk.c
	}

	switch {
	case hasQualifyingLocal:
		return out, ReasonLocalOperator
	case usePrecedence:
		return out, fmt.Sprintf("%s:%s", ReasonRegionalPrecedence, strings.ToUpper(region.State))
	default:
		return out, ReasonAreaHeuristic
	}
}

// qualifiesLocal reports whether the candidate triggers the
// local-operator-first rule: local type, small verified territory.
func (r *Resolver) qualifiesLocal(c model.Candidate) bool {
	d := r.policy.Defaults
	return c.OperatorType.Local() &&
		c.AreaKM2 > 0 && c.AreaKM2 <= d.LocalAreaCeilingKM2 &&
		c.CustomerCount >= d.MinCustomerCount
}

func (r *Resolver) areaWeight(c model.Candidate) float64 {
	d := r.policy.Defaults
	switch {
	case c.AreaKM2 <= 0:
		return 1.0 // non-geometry candidate, no area signal
	case c.AreaKM2 > d.HugeAreaKM2:
		return 0.75
	case c.AreaKM2 > d.LargeAreaKM2:
		return 0.85
	case c.AreaKM2 <= d.LocalAreaCeilingKM2 && c.CustomerCount >= d.MinCustomerCount:
		return 1.10
	default:
		return 1.0
	}
}

func (r *Resolver) typeWeight(c model.Candidate) float64 {
	d := r.policy.Defaults
	if c.OperatorType.Local() {
		return d.LocalTypeWeight
	}
	if c.AreaKM2 > d.LargeAreaKM2 {
		return d.RegionalTypeWeight
	}
	return 1.0
}

// precedenceIndex matches a candidate against the precedence list by
// canonical_id, falling back to the cleaned name.
func precedenceIndex(precedence []string, c model.Candidate) int {
	for i, id := range precedence {
		if c.CanonicalID != "" && strings.EqualFold(c.CanonicalID, id) {
			return i
		}
		if c.CanonicalID == "" && normalize.Clean(c.RawName) == normalize.Clean(id) {
			return i
		}
	}
	return len(precedence)
}
