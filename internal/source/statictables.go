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

// tableEntry is one row of a static fallback table.
type tableEntry struct {
	Zip5        string            `yaml:"zip5"`
	State       string            `yaml:"state"`
	County      string            `yaml:"county"`
	UtilityType model.UtilityType `yaml:"utility_type"`
	Provider    string            `yaml:"provider"`
	RegulatorID string            `yaml:"regulator_id"`
}

type tableFile struct {
	Entries []tableEntry `yaml:"entries"`
}

// ZipTableSource answers from a static ZIP5 table. ZIP areas routinely span
// territory boundaries, so precision is zip5 and the tier is mid-range.
type ZipTableSource struct {
	byKey   map[string][]tableEntry // zip5|type
	tier    float64
	timeout time.Duration
}

// NewZipTableSource loads the ZIP table from a YAML file.
func NewZipTableSource(path string, tier float64, timeout time.Duration) (*ZipTableSource, error) {
	entries, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	s := &ZipTableSource{
		byKey:   make(map[string][]tableEntry),
		tier:    tier,
		timeout: timeout,
	}
	for _, e := range entries {
		if e.Zip5 == "" || !e.UtilityType.Valid() {
			continue
		}
		key := e.Zip5 + "|" + string(e.UtilityType)
		s.byKey[key] = append(s.byKey[key], e)
	}
	return s, nil
}

// Name implements Adapter.
func (s *ZipTableSource) Name() string { return "ziptable" }

// SupportedTypes implements Adapter.
func (s *ZipTableSource) SupportedTypes() []model.UtilityType { return model.AllUtilityTypes() }

// BaseConfidence implements Adapter.
func (s *ZipTableSource) BaseConfidence() float64 { return s.tier }

// Timeout implements Adapter.
func (s *ZipTableSource) Timeout() time.Duration { return s.timeout }

// Query implements Adapter.
func (s *ZipTableSource) Query(_ context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, error) {
	if geo.Zip5 == "" {
		return nil, nil
	}
	entries := s.byKey[geo.Zip5+"|"+string(t)]
	return tableCandidates(s.Name(), s.tier, model.PrecisionZip5, t, entries), nil
}

// CountyTableSource answers from a static state+county table, the coarsest
// fallback below state-wide defaults.
type CountyTableSource struct {
	byKey   map[string][]tableEntry // state|county|type
	tier    float64
	timeout time.Duration
}

// NewCountyTableSource loads the county table from a YAML file.
func NewCountyTableSource(path string, tier float64, timeout time.Duration) (*CountyTableSource, error) {
	entries, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	s := &CountyTableSource{
		byKey:   make(map[string][]tableEntry),
		tier:    tier,
		timeout: timeout,
	}
	for _, e := range entries {
		if e.State == "" || e.County == "" || !e.UtilityType.Valid() {
			continue
		}
		key := countyKey(e.State, e.County, e.UtilityType)
		s.byKey[key] = append(s.byKey[key], e)
	}
	return s, nil
}

// Name implements Adapter.
func (s *CountyTableSource) Name() string { return "countytable" }

// SupportedTypes implements Adapter.
func (s *CountyTableSource) SupportedTypes() []model.UtilityType { return model.AllUtilityTypes() }

// BaseConfidence implements Adapter.
func (s *CountyTableSource) BaseConfidence() float64 { return s.tier }

// Timeout implements Adapter.
func (s *CountyTableSource) Timeout() time.Duration { return s.timeout }

// Query implements Adapter.
func (s *CountyTableSource) Query(_ context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, error) {
	if geo.State == "" || geo.County == "" {
		return nil, nil
	}
	entries := s.byKey[countyKey(geo.State, geo.County, t)]
	return tableCandidates(s.Name(), s.tier, model.PrecisionCounty, t, entries), nil
}

func countyKey(state, county string, t model.UtilityType) string {
	county = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(county)), " county")
	return strings.ToUpper(strings.TrimSpace(state)) + "|" + county + "|" + string(t)
}

func tableCandidates(source string, tier float64, prec model.Precision, t model.UtilityType, entries []tableEntry) []model.Candidate {
	if len(entries) == 0 {
		return nil
	}
	out := make([]model.Candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.Candidate{
			SourceName:     source,
			UtilityType:    t,
			RawName:        e.Provider,
			BaseConfidence: tier,
			Precision:      prec,
			State:          strings.ToUpper(e.State),
			RegulatorID:    e.RegulatorID,
		})
	}
	return out
}

func loadTable(path string) ([]tableEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read table %s", path)
	}
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, eris.Wrapf(err, "source: parse table %s", path)
	}
	return tf.Entries, nil
}
