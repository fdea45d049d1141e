package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseek/utility-cli/internal/cache"
	"github.com/gridseek/utility-cli/internal/catalog"
	"github.com/gridseek/utility-cli/internal/collect"
	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/dedup"
	"github.com/gridseek/utility-cli/internal/geocode"
	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/normalize"
	"github.com/gridseek/utility-cli/internal/overlap"
	"github.com/gridseek/utility-cli/internal/registry"
	"github.com/gridseek/utility-cli/internal/resilience"
	"github.com/gridseek/utility-cli/internal/score"
	"github.com/gridseek/utility-cli/internal/source"
)

// fakeGeocoder returns one scripted geocode for every address.
type fakeGeocoder struct {
	geo *model.GeocodedAddress
	err error
}

func (f *fakeGeocoder) Geocode(_ context.Context, addr geocode.Address) (*model.GeocodedAddress, error) {
	if f.err != nil {
		return nil, f.err
	}
	g := *f.geo
	g.InputAddress = addr.OneLine()
	return &g, nil
}

func (f *fakeGeocoder) GeocodeBatch(ctx context.Context, addrs []geocode.Address) ([]model.GeocodedAddress, error) {
	out := make([]model.GeocodedAddress, len(addrs))
	for i, a := range addrs {
		g, err := f.Geocode(ctx, a)
		if err != nil {
			return nil, err
		}
		out[i] = *g
	}
	return out, nil
}

// fakeSource is a scriptable source adapter.
type fakeSource struct {
	name  string
	types []model.UtilityType
	tier  float64
	cands []model.Candidate
}

func (f *fakeSource) Name() string                        { return f.name }
func (f *fakeSource) SupportedTypes() []model.UtilityType { return f.types }
func (f *fakeSource) BaseConfidence() float64             { return f.tier }
func (f *fakeSource) Timeout() time.Duration              { return time.Second }
func (f *fakeSource) Query(context.Context, *model.GeocodedAddress, model.UtilityType) ([]model.Candidate, error) {
	return f.cands, nil
}

func electricSource(name string, tier float64, p model.Precision, rawName string) *fakeSource {
	return &fakeSource{
		name:  name,
		types: []model.UtilityType{model.Electric},
		tier:  tier,
		cands: []model.Candidate{{
			SourceName:     name,
			UtilityType:    model.Electric,
			RawName:        rawName,
			BaseConfidence: tier,
			Precision:      p,
		}},
	}
}

const testRegistryYAML = `
version: "2026-08"
providers:
  - canonical_id: us-or-pacific-power
    display_name: Pacific Power
    utility_type: electric
    state: OR
    aliases:
      - PacifiCorp dba Pacific Power
  - canonical_id: us-or-ashland-electric
    display_name: Ashland Municipal Electric
    utility_type: electric
    state: OR
`

func matchedGeo() *model.GeocodedAddress {
	return &model.GeocodedAddress{
		Matched: true, Latitude: 42.19, Longitude: -122.70,
		State: "OR", County: "Jackson", Zip5: "97520", City: "Ashland",
		Quality: "rooftop", Source: "census",
	}
}

// newTestEngine assembles an Engine over the given adapters with real
// pipeline stages and a scripted geocoder.
func newTestEngine(t *testing.T, gc Geocoder, withCache *cache.Cache, auditor *Auditor, adapters ...source.Adapter) *Engine {
	t.Helper()

	reg, err := registry.Parse([]byte(testRegistryYAML), nil)
	require.NoError(t, err)

	collector := collect.New(adapters,
		resilience.NewBreakerSet(resilience.BreakerConfig{}), collect.Config{})

	scorer, err := score.NewScorer(config.ScoreConfig{
		PrecisionPointBonus:   6,
		PrecisionZipBonus:     3,
		PrecisionCountyBonus:  1,
		AgreementBonus:        3,
		AgreementCap:          9,
		AgreementMinTier:      60,
		ReliabilityPenalty:    8,
		ReliabilityExemptTier: 95,
		ReviewCutoff:          70,
	}, map[string]float64{
		"override": 99, "layers": 88, "postgis": 85, "ziptable": 65, "countytable": 50,
	}, nil)
	require.NoError(t, err)

	matcher := catalog.NewMatcher([]catalog.Entry{
		{ID: "CAT-1001", Title: "Pacific Power", UtilityType: model.Electric, State: "OR"},
		{ID: "CAT-1002", Title: "Ashland Municipal Electric", UtilityType: model.Electric, State: "OR"},
	}, nil, 0, 0)

	return New(
		gc,
		collector,
		normalize.NewResolver(reg),
		overlap.NewResolver(overlap.DefaultPolicy()),
		dedup.DefaultConfig(),
		scorer,
		matcher,
		withCache,
		auditor,
	)
}

func TestLookupCorroboratedResolution(t *testing.T) {
	// Two sources name the same provider through different raw strings; the
	// alias resolves to the same canonical id, so they corroborate.
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
		electricSource("ziptable", 65, model.PrecisionZip5, "PacifiCorp dba Pacific Power"),
	)

	got, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CacheHit)

	res := got.Results[model.Electric]
	require.NotNil(t, res)
	assert.Equal(t, "us-or-pacific-power", res.CanonicalID)
	assert.Equal(t, "Pacific Power", res.DisplayName)
	// 88 tier + 6 point + 3*65/100 agreement = 95.95 -> 96.
	assert.Equal(t, 96, res.ConfidenceScore)
	assert.Equal(t, model.LevelHigh, res.ConfidenceLevel)
	assert.False(t, res.NeedsReview)
	assert.Equal(t, overlap.ReasonSingleCandidate, res.SelectionReason)
	assert.ElementsMatch(t, []string{"layers", "ziptable"}, res.AgreeingSources)
	assert.Empty(t, res.DisagreeingSources)
	assert.True(t, res.CatalogMatched)
	assert.Equal(t, "CAT-1001", res.CatalogID)
}

func TestLookupDisagreeingSources(t *testing.T) {
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
		electricSource("countytable", 50, model.PrecisionCounty, "Ashland Municipal Electric"),
	)

	got, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	require.NoError(t, err)

	res := got.Results[model.Electric]
	require.NotNil(t, res)
	assert.Equal(t, "us-or-pacific-power", res.CanonicalID)
	assert.Equal(t, []string{"countytable"}, res.DisagreeingSources)

	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, "us-or-ashland-electric", res.Alternatives[0].CanonicalID)
	assert.Equal(t, "Ashland Municipal Electric", res.Alternatives[0].DisplayName)
	assert.Equal(t, "countytable", res.Alternatives[0].Source)
}

func TestLookupGeocodeUnmatchedDegrades(t *testing.T) {
	e := newTestEngine(t, &fakeGeocoder{geo: &model.GeocodedAddress{Matched: false}}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
	)

	got, err := e.Lookup(context.Background(), "gibberish input", []model.UtilityType{model.Electric, model.Gas})
	require.NoError(t, err)

	for _, typ := range []model.UtilityType{model.Electric, model.Gas} {
		res := got.Results[typ]
		require.NotNil(t, res)
		assert.Empty(t, res.DisplayName)
		assert.Equal(t, "geocode_unmatched", res.SelectionReason)
		assert.Equal(t, model.LevelNone, res.ConfidenceLevel)
		assert.True(t, res.NeedsReview)
	}
}

func TestLookupNoCandidates(t *testing.T) {
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
	)

	got, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Water})
	require.NoError(t, err)

	res := got.Results[model.Water]
	require.NotNil(t, res)
	assert.Equal(t, "no_candidates", res.SelectionReason)
	assert.True(t, res.NeedsReview)
}

func TestLookupInvalidRequests(t *testing.T) {
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, nil, nil)

	_, err := e.Lookup(context.Background(), "   ", nil)
	assert.Error(t, err)

	_, err = e.Lookup(context.Background(), "201 Oak St", []model.UtilityType{"telepathy"})
	assert.Error(t, err)
}

func TestLookupDefaultsToAllTypes(t *testing.T) {
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
	)

	got, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", nil)
	require.NoError(t, err)
	assert.Len(t, got.Results, len(model.AllUtilityTypes()))
}

func TestLookupCacheHit(t *testing.T) {
	c := cache.New(config.CacheConfig{SuccessTTLHours: 1, FailureTTLMins: 5}, nil)
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, c, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
	)

	first, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Results[model.Electric].CanonicalID, second.Results[model.Electric].CanonicalID)
}

func TestLookupGeocodeErrorDegradesUnlessCanceled(t *testing.T) {
	e := newTestEngine(t, &fakeGeocoder{err: assert.AnError}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Pacific Power"),
	)

	// Upstream geocode failure degrades to an unmatched lookup.
	got, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	require.NoError(t, err)
	assert.Equal(t, "geocode_unmatched", got.Results[model.Electric].SelectionReason)

	// A canceled context is a hard error.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Lookup(ctx, "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	assert.Error(t, err)
}

func TestLookupPassthroughNameStillAnswers(t *testing.T) {
	// A provider the registry does not know passes through with its cleaned
	// name and no canonical id.
	e := newTestEngine(t, &fakeGeocoder{geo: matchedGeo()}, nil, nil,
		electricSource("layers", 88, model.PrecisionPoint, "Obscure Valley Power Co."),
	)

	got, err := e.Lookup(context.Background(), "201 Oak St, Ashland, OR 97520", []model.UtilityType{model.Electric})
	require.NoError(t, err)

	res := got.Results[model.Electric]
	require.NotNil(t, res)
	assert.Empty(t, res.CanonicalID)
	assert.NotEmpty(t, res.DisplayName)
}
