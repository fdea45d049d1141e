package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseek/utility-cli/internal/model"
)

func cand(source, canonicalID, raw string, tier float64, p model.Precision) model.Candidate {
	return model.Candidate{
		SourceName:     source,
		UtilityType:    model.Electric,
		RawName:        raw,
		CanonicalID:    canonicalID,
		BaseConfidence: tier,
		Precision:      p,
	}
}

func TestMergeBoostsPerCorroboratingSource(t *testing.T) {
	out := Merge([]model.Candidate{
		cand("layers", "us-or-pacific-power", "Pacific Power", 88, model.PrecisionPoint),
		cand("ziptable", "us-or-pacific-power", "PACIFIC POWER", 65, model.PrecisionZip5),
		cand("countytable", "us-or-pacific-power", "PacifiCorp", 50, model.PrecisionCounty),
	}, DefaultConfig())

	require.Len(t, out, 1)
	m := out[0]
	// Highest-tier member survives, plus 2.5 per extra source.
	assert.Equal(t, "layers", m.SourceName)
	assert.InDelta(t, 88+2*2.5, m.BaseConfidence, 0.001)
	assert.ElementsMatch(t, []string{"layers", "ziptable", "countytable"}, m.AgreeingSources)
}

func TestMergeBoostCapped(t *testing.T) {
	cands := []model.Candidate{
		cand("layers", "us-or-pacific-power", "Pacific Power", 96, model.PrecisionPoint),
		cand("postgis", "us-or-pacific-power", "Pacific Power", 85, model.PrecisionPoint),
		cand("ziptable", "us-or-pacific-power", "Pacific Power", 65, model.PrecisionZip5),
	}
	out := Merge(cands, DefaultConfig())
	require.Len(t, out, 1)
	assert.Equal(t, 98.0, out[0].BaseConfidence)
}

func TestMergeSameSourceCountsOnce(t *testing.T) {
	out := Merge([]model.Candidate{
		cand("layers", "us-or-pacific-power", "Pacific Power", 88, model.PrecisionPoint),
		cand("layers", "us-or-pacific-power", "Pacific Power", 88, model.PrecisionPoint),
	}, DefaultConfig())

	require.Len(t, out, 1)
	assert.Equal(t, 88.0, out[0].BaseConfidence)
	assert.Equal(t, []string{"layers"}, out[0].AgreeingSources)
}

func TestMergeDirectConfidenceUntouched(t *testing.T) {
	direct := cand("override", "us-or-ashland-electric", "Ashland Municipal Electric", 95, model.PrecisionPoint)
	direct.DirectConfidence = true

	out := Merge([]model.Candidate{
		direct,
		cand("layers", "us-or-ashland-electric", "Ashland Electric", 88, model.PrecisionPoint),
	}, DefaultConfig())

	require.Len(t, out, 1)
	assert.Equal(t, 95.0, out[0].BaseConfidence)
	assert.True(t, out[0].DirectConfidence)
	// The direct winner still records its corroborating sources.
	assert.ElementsMatch(t, []string{"override", "layers"}, out[0].AgreeingSources)
}

func TestMergeUnresolvedGroupByName(t *testing.T) {
	// Passthrough candidates group on the cleaned name, not together.
	out := Merge([]model.Candidate{
		cand("layers", "", "Talent Irrigation District", 88, model.PrecisionPoint),
		cand("ziptable", "", "Medford Water Commission", 65, model.PrecisionZip5),
	}, DefaultConfig())

	require.Len(t, out, 2)
	assert.Equal(t, "Talent Irrigation District", out[0].RawName)
	assert.Equal(t, 88.0, out[0].BaseConfidence)
}

func TestMergeUnresolvedGroupingIsCaseInsensitive(t *testing.T) {
	// Two sources reporting the same unknown provider in different casing
	// still corroborate each other.
	out := Merge([]model.Candidate{
		cand("layers", "", "Talent Irrigation District", 88, model.PrecisionPoint),
		cand("ziptable", "", "TALENT IRRIGATION DISTRICT", 65, model.PrecisionZip5),
	}, DefaultConfig())

	require.Len(t, out, 1)
	assert.InDelta(t, 88+2.5, out[0].BaseConfidence, 0.001)
	assert.ElementsMatch(t, []string{"layers", "ziptable"}, out[0].AgreeingSources)
}

func TestMergePrecisionBreaksTierTie(t *testing.T) {
	out := Merge([]model.Candidate{
		cand("countytable", "us-or-pacific-power", "Pacific Power", 65, model.PrecisionCounty),
		cand("ziptable", "us-or-pacific-power", "Pacific Power", 65, model.PrecisionZip5),
	}, DefaultConfig())

	require.Len(t, out, 1)
	assert.Equal(t, model.PrecisionZip5, out[0].Precision)
	assert.Equal(t, "ziptable", out[0].SourceName)
}

func TestMergeOrdersGroupsBestFirst(t *testing.T) {
	out := Merge([]model.Candidate{
		cand("ziptable", "us-or-b", "Beta Electric", 65, model.PrecisionZip5),
		cand("layers", "us-or-a", "Alpha Electric", 88, model.PrecisionPoint),
	}, DefaultConfig())

	require.Len(t, out, 2)
	assert.Equal(t, "us-or-a", out[0].CanonicalID)
}

func TestMergeEmptyInput(t *testing.T) {
	assert.Nil(t, Merge(nil, DefaultConfig()))
}
