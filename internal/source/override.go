package source

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/gridseek/utility-cli/internal/model"
)

// Override is one manual correction entry. Overrides always outrank every
// other source; they are maintained by hand (or by the offline review
// suggester) when upstream data is known wrong at an address.
type Override struct {
	Address     string            `yaml:"address"`
	Zip5        string            `yaml:"zip5"`
	UtilityType model.UtilityType `yaml:"utility_type"`
	Provider    string            `yaml:"provider"`
	CanonicalID string            `yaml:"canonical_id"`
	CatalogID   string            `yaml:"catalog_id"`
	Confidence  float64           `yaml:"confidence"`
}

type overrideFile struct {
	Overrides []Override `yaml:"overrides"`
}

// defaultOverrideConfidence is used when an entry does not set one. It sits
// above every automated tier but still below certainty.
const defaultOverrideConfidence = 97

// OverrideSource serves manually confirmed corrections, keyed by normalized
// address first, then by ZIP5.
type OverrideSource struct {
	byAddress map[string][]Override // addrKey|type
	byZip     map[string][]Override // zip5|type
	tier      float64
	timeout   time.Duration
}

// NewOverrideSource loads the correction override table. A missing file is
// not an error: most deployments start with no corrections.
func NewOverrideSource(path string, tier float64, timeout time.Duration) (*OverrideSource, error) {
	s := &OverrideSource{
		byAddress: make(map[string][]Override),
		byZip:     make(map[string][]Override),
		tier:      tier,
		timeout:   timeout,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, eris.Wrapf(err, "source: read overrides %s", path)
	}

	var of overrideFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return nil, eris.Wrap(err, "source: parse overrides")
	}

	for _, o := range of.Overrides {
		if !o.UtilityType.Valid() || o.Provider == "" {
			continue
		}
		if o.Address != "" {
			key := addrKey(o.Address) + "|" + string(o.UtilityType)
			s.byAddress[key] = append(s.byAddress[key], o)
		} else if o.Zip5 != "" {
			key := o.Zip5 + "|" + string(o.UtilityType)
			s.byZip[key] = append(s.byZip[key], o)
		}
	}
	return s, nil
}

// Name implements Adapter.
func (s *OverrideSource) Name() string { return "override" }

// SupportedTypes implements Adapter.
func (s *OverrideSource) SupportedTypes() []model.UtilityType { return model.AllUtilityTypes() }

// BaseConfidence implements Adapter.
func (s *OverrideSource) BaseConfidence() float64 { return s.tier }

// Timeout implements Adapter.
func (s *OverrideSource) Timeout() time.Duration { return s.timeout }

// Query implements Adapter. Address-keyed entries win over ZIP-keyed ones.
func (s *OverrideSource) Query(_ context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, error) {
	var hits []Override
	var prec model.Precision

	if geo.InputAddress != "" {
		hits = s.byAddress[addrKey(geo.InputAddress)+"|"+string(t)]
		prec = model.PrecisionPoint
	}
	if len(hits) == 0 && geo.Zip5 != "" {
		hits = s.byZip[geo.Zip5+"|"+string(t)]
		prec = model.PrecisionZip5
	}
	if len(hits) == 0 {
		return nil, nil
	}

	out := make([]model.Candidate, 0, len(hits))
	for _, o := range hits {
		conf := o.Confidence
		if conf <= 0 {
			conf = defaultOverrideConfidence
		}
		c := model.Candidate{
			SourceName:       s.Name(),
			UtilityType:      t,
			RawName:          o.Provider,
			BaseConfidence:   conf,
			Precision:        prec,
			DirectConfidence: true,
			CanonicalID:      o.CanonicalID,
			DisplayName:      o.Provider,
		}
		if o.CatalogID != "" {
			c.Attributes = map[string]string{"catalog_id": o.CatalogID}
		}
		out = append(out, c)
	}
	return out, nil
}

// addrKey normalizes an address string for exact override matching.
func addrKey(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = strings.NewReplacer(",", " ", ".", " ", "#", " ").Replace(addr)
	return strings.Join(strings.Fields(addr), " ")
}
