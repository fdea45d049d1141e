// Package score produces the calibrated 0-98 confidence score and
// qualitative level for a resolved provider group.
package score

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/model"
)

// maxScore is the hard ceiling: a resolution is never asserted certain.
const maxScore = 98

// Region locates the scored point for regional adjustments.
type Region struct {
	State  string
	County string
}

// Result is the scorer output for one group.
type Result struct {
	Score       int
	Level       model.ConfidenceLevel
	NeedsReview bool
	Factors     []model.ConfidenceFactor
}

// regionalFile is the on-disk regional data-quality table.
type regionalFile struct {
	Adjustments []struct {
		Region string  `yaml:"region"`
		Delta  float64 `yaml:"delta"`
	} `yaml:"adjustments"`
	LowReliability []struct {
		Region string `yaml:"region"`
		Note   string `yaml:"note"`
	} `yaml:"low_reliability"`
}

// Scorer computes additive confidence scores. It is stateless per request;
// the tier table, regional tables, and source vintages are read-only.
type Scorer struct {
	cfg       config.ScoreConfig
	tiers     map[string]float64
	regional  map[string]float64
	lowRelief map[string]bool
	dataAsOf  map[string]time.Time
	now       func() time.Time
}

// NewScorer creates a Scorer. tiers maps source name to its tier score;
// dataAsOf maps source name to the vintage of its underlying data and may
// be nil when vintages are unknown.
func NewScorer(cfg config.ScoreConfig, tiers map[string]float64, dataAsOf map[string]time.Time) (*Scorer, error) {
	s := &Scorer{
		cfg:       cfg,
		tiers:     tiers,
		regional:  make(map[string]float64),
		lowRelief: make(map[string]bool),
		dataAsOf:  dataAsOf,
		now:       time.Now,
	}

	if cfg.RegionalPath != "" {
		data, err := os.ReadFile(cfg.RegionalPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, eris.Wrapf(err, "score: read regional table %s", cfg.RegionalPath)
			}
			return s, nil
		}
		var rf regionalFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, eris.Wrap(err, "score: parse regional table")
		}
		for _, a := range rf.Adjustments {
			s.regional[regionKeyNorm(a.Region)] = a.Delta
		}
		for _, l := range rf.LowReliability {
			s.lowRelief[regionKeyNorm(l.Region)] = true
		}
	}
	return s, nil
}

// WithNow sets a fixed clock for tests.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score computes the confidence for a merged group whose winner is c.
// Additive model: winning source tier, precision bonus, agreement bonus,
// regional adjustment, low-reliability penalty, staleness penalty; clamped
// to [0, 98].
func (s *Scorer) Score(c model.Candidate, region Region) Result {
	// A direct-set override confidence is authoritative: clamp to the hard
	// range but apply no adjustments. Reclamping overrides through the
	// general math was a known regression.
	if c.DirectConfidence {
		v := clamp(c.BaseConfidence)
		return Result{
			Score:       v,
			Level:       LevelFor(v),
			NeedsReview: v < s.cfg.ReviewCutoff,
			Factors: []model.ConfidenceFactor{
				{Name: "override", Points: float64(v), Detail: "manually confirmed correction"},
			},
		}
	}

	var factors []model.ConfidenceFactor

	base := s.tierOf(c.SourceName, c.BaseConfidence)
	factors = append(factors, model.ConfidenceFactor{
		Name: "source_tier", Points: base, Detail: c.SourceName,
	})
	total := base

	if p := s.precisionBonus(c.Precision); p != 0 {
		factors = append(factors, model.ConfidenceFactor{
			Name: "precision", Points: p, Detail: c.Precision.String(),
		})
		total += p
	}

	if a, detail := s.agreementBonus(c); a != 0 {
		factors = append(factors, model.ConfidenceFactor{
			Name: "agreement", Points: a, Detail: detail,
		})
		total += a
	}

	if d, ok := s.regionalDelta(region); ok && d != 0 {
		factors = append(factors, model.ConfidenceFactor{
			Name: "regional_quality", Points: d, Detail: strings.ToUpper(region.State),
		})
		total += d
	}

	if s.lowReliability(region) && base < s.cfg.ReliabilityExemptTier {
		factors = append(factors, model.ConfidenceFactor{
			Name: "low_reliability_region", Points: -s.cfg.ReliabilityPenalty,
		})
		total -= s.cfg.ReliabilityPenalty
	}

	if p, age := s.stalenessPenalty(c.SourceName); p != 0 {
		factors = append(factors, model.ConfidenceFactor{
			Name: "staleness", Points: -p, Detail: fmt.Sprintf("data age %dd", age),
		})
		total -= p
	}

	v := clamp(total)
	return Result{
		Score:       v,
		Level:       LevelFor(v),
		NeedsReview: v < s.cfg.ReviewCutoff,
		Factors:     factors,
	}
}

// tierOf returns the configured tier for a source. The fallback subtracts
// nothing: merged confidence already includes the dedup boost, so the tier
// table is preferred when present.
func (s *Scorer) tierOf(sourceName string, fallback float64) float64 {
	if t, ok := s.tiers[sourceName]; ok {
		return t
	}
	return fallback
}

func (s *Scorer) precisionBonus(p model.Precision) float64 {
	switch p {
	case model.PrecisionPoint:
		return s.cfg.PrecisionPointBonus
	case model.PrecisionZip5:
		return s.cfg.PrecisionZipBonus
	case model.PrecisionCounty:
		return s.cfg.PrecisionCountyBonus
	default:
		return 0
	}
}

// agreementBonus scales with the count and quality of corroborating
// sources. Sources below the minimum tier do not count: a stack of weak
// fallbacks must not out-vote one strong source.
func (s *Scorer) agreementBonus(c model.Candidate) (float64, string) {
	var bonus float64
	counted := 0
	for _, src := range c.AgreeingSources {
		if src == c.SourceName {
			continue
		}
		tier := s.tierOf(src, 0)
		if tier < s.cfg.AgreementMinTier {
			continue
		}
		counted++
		bonus += s.cfg.AgreementBonus * tier / 100
	}
	if bonus > s.cfg.AgreementCap {
		bonus = s.cfg.AgreementCap
	}
	if counted == 0 {
		return 0, ""
	}
	return bonus, fmt.Sprintf("%d corroborating source(s)", counted)
}

func (s *Scorer) regionalDelta(r Region) (float64, bool) {
	if d, ok := s.regional[regionKeyNorm(r.State+"|"+r.County)]; ok && r.County != "" {
		return d, true
	}
	d, ok := s.regional[regionKeyNorm(r.State)]
	return d, ok
}

func (s *Scorer) lowReliability(r Region) bool {
	if r.County != "" && s.lowRelief[regionKeyNorm(r.State+"|"+r.County)] {
		return true
	}
	return s.lowRelief[regionKeyNorm(r.State)]
}

func (s *Scorer) stalenessPenalty(sourceName string) (float64, int) {
	if s.dataAsOf == nil || s.cfg.StaleAfterDays <= 0 {
		return 0, 0
	}
	asOf, ok := s.dataAsOf[sourceName]
	if !ok || asOf.IsZero() {
		return 0, 0
	}
	ageDays := int(s.now().Sub(asOf).Hours() / 24)
	if ageDays <= s.cfg.StaleAfterDays {
		return 0, 0
	}
	return s.cfg.StalenessPenalty, ageDays
}

func clamp(v float64) int {
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > maxScore {
		return maxScore
	}
	return n
}

func regionKeyNorm(s string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(s, "|")))
}
