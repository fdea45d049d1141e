package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	doc := `
providers:
  - canonical_id: us-or-pacific-power
    display_name: Pacific Power
    utility_type: electric
    state: OR
    regulator_id: OR-E-001
    aliases:
      - PacifiCorp dba Pacific Power
  - canonical_id: us-wa-pacific-county-pud
    display_name: Pacific County PUD
    utility_type: electric
    state: WA
  - canonical_id: us-or-ashland-water
    display_name: City of Ashland Water Department
    utility_type: water
    state: OR
`
	reg, err := registry.Parse([]byte(doc), nil)
	require.NoError(t, err)
	return reg
}

func TestResolveExact(t *testing.T) {
	r := NewResolver(testRegistry(t))

	m := r.Resolve("Pacific Power", model.Electric, "", "")
	assert.Equal(t, "us-or-pacific-power", m.CanonicalID)
	assert.Equal(t, MethodExact, m.Method)
	assert.Equal(t, 1.0, m.Score)

	// Case-insensitive, alias included.
	m = r.Resolve("pacificorp dba pacific power", model.Electric, "", "")
	assert.Equal(t, "us-or-pacific-power", m.CanonicalID)
	assert.Equal(t, MethodExact, m.Method)
}

func TestResolveRegulatorID(t *testing.T) {
	r := NewResolver(testRegistry(t))

	// A drifted name still resolves through the regulator id.
	m := r.Resolve("Pacificorp Oregon Operations Group", model.Electric, "", "OR-E-001")
	assert.Equal(t, "us-or-pacific-power", m.CanonicalID)
	assert.Equal(t, MethodRegulatorID, m.Method)
}

func TestResolveStateFuzzy(t *testing.T) {
	r := NewResolver(testRegistry(t))

	// The state hint steers the fuzzy match to the in-state provider.
	m := r.Resolve("Pacific Pwer", model.Electric, "OR", "")
	assert.Equal(t, "us-or-pacific-power", m.CanonicalID)
	assert.Equal(t, MethodFuzzyState, m.Method)
	assert.GreaterOrEqual(t, m.Score, 0.82)
}

func TestResolveGenericFuzzy(t *testing.T) {
	r := NewResolver(testRegistry(t))

	m := r.Resolve("Pacific Powr", model.Electric, "", "")
	assert.Equal(t, "us-or-pacific-power", m.CanonicalID)
	assert.Equal(t, MethodFuzzy, m.Method)
	assert.GreaterOrEqual(t, m.Score, 0.85)
}

func TestResolveFuzzyFloorHolds(t *testing.T) {
	r := NewResolver(testRegistry(t))

	// Similar-looking but genuinely different name must not fuzzy-match.
	m := r.Resolve("Atlantic Power", model.Electric, "", "")
	assert.NotEqual(t, MethodFuzzy, m.Method)
	assert.Empty(t, m.CanonicalID)
}

func TestResolveSubstring(t *testing.T) {
	r := NewResolver(testRegistry(t))

	m := r.Resolve("service provided by Pacific Power under schedule 47", model.Electric, "", "")
	assert.Equal(t, "us-or-pacific-power", m.CanonicalID)
	assert.Equal(t, MethodSubstring, m.Method)
}

func TestResolvePassthrough(t *testing.T) {
	r := NewResolver(testRegistry(t))

	m := r.Resolve("Totally Unknown Waterworks Inc.", model.Water, "", "")
	assert.Empty(t, m.CanonicalID)
	assert.Equal(t, MethodPassthrough, m.Method)
	assert.Equal(t, "Totally Unknown Waterworks", m.DisplayName)
	assert.False(t, m.Resolved())
}

func TestResolveTypeScoping(t *testing.T) {
	r := NewResolver(testRegistry(t))

	// A water provider name does not resolve under electric.
	m := r.Resolve("City of Ashland Water Department", model.Electric, "", "")
	assert.Empty(t, m.CanonicalID)
}
