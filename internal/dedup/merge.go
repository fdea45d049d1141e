// Package dedup merges candidates that resolve to the same canonical
// provider and boosts confidence per corroborating source.
package dedup

import (
	"sort"

	"github.com/gridseek/utility-cli/internal/model"
)

// Config tunes the corroboration boost. Tuned against the regression
// address set; configuration, not constants.
type Config struct {
	// BoostPerSource is added once per corroborating source beyond the
	// first.
	BoostPerSource float64
	// Cap bounds boosted confidence strictly below certainty.
	Cap float64
}

// DefaultConfig returns the boost parameters used in production.
func DefaultConfig() Config {
	return Config{BoostPerSource: 2.5, Cap: 98}
}

// Merge groups candidates by resolved canonical identity and returns one
// merged candidate per group, best group first.
//
// Grouping runs on canonical_id, so the normalizer must have run already:
// grouping raw strings would undercount agreement. Within a group the
// highest-confidence member survives and gains a fixed boost per extra
// corroborating source. A candidate whose confidence was set directly by a
// correction override keeps it untouched; reclamping such a value here was
// a real regression once.
func Merge(cands []model.Candidate, cfg Config) []model.Candidate {
	if cfg.BoostPerSource <= 0 {
		cfg.BoostPerSource = DefaultConfig().BoostPerSource
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultConfig().Cap
	}
	if len(cands) == 0 {
		return nil
	}

	type group struct {
		winner  model.Candidate
		sources []string
		seen    map[string]bool
	}

	var order []string
	groups := make(map[string]*group)

	for _, c := range cands {
		key := c.GroupKey()
		g, ok := groups[key]
		if !ok {
			g = &group{winner: c, seen: map[string]bool{}}
			groups[key] = g
			order = append(order, key)
		}

		if !g.seen[c.SourceName] {
			g.seen[c.SourceName] = true
			g.sources = append(g.sources, c.SourceName)
		}

		if better(c, g.winner) {
			g.winner = c
		}
	}

	out := make([]model.Candidate, 0, len(order))
	for _, key := range order {
		g := groups[key]
		merged := g.winner
		merged.AgreeingSources = g.sources

		if !merged.DirectConfidence {
			boost := cfg.BoostPerSource * float64(len(g.sources)-1)
			merged.BaseConfidence += boost
			if merged.BaseConfidence > cfg.Cap {
				merged.BaseConfidence = cfg.Cap
			}
		}
		out = append(out, merged)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BaseConfidence != out[j].BaseConfidence {
			return out[i].BaseConfidence > out[j].BaseConfidence
		}
		return out[i].GroupKey() < out[j].GroupKey()
	})
	return out
}

// better prefers higher tier, then finer precision, so a point-precision
// geometry hit beats a county fallback at equal tier.
func better(a, b model.Candidate) bool {
	if a.DirectConfidence != b.DirectConfidence {
		return a.DirectConfidence
	}
	if a.BaseConfidence != b.BaseConfidence {
		return a.BaseConfidence > b.BaseConfidence
	}
	return a.Precision > b.Precision
}
