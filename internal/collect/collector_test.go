package collect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/resilience"
	"github.com/gridseek/utility-cli/internal/source"
)

// fakeAdapter is a scriptable source adapter.
type fakeAdapter struct {
	name    string
	types   []model.UtilityType
	tier    float64
	timeout time.Duration
	query   func(ctx context.Context) ([]model.Candidate, error)
	calls   int
}

func (f *fakeAdapter) Name() string                        { return f.name }
func (f *fakeAdapter) SupportedTypes() []model.UtilityType { return f.types }
func (f *fakeAdapter) BaseConfidence() float64             { return f.tier }
func (f *fakeAdapter) Timeout() time.Duration {
	if f.timeout == 0 {
		return time.Second
	}
	return f.timeout
}

func (f *fakeAdapter) Query(ctx context.Context, _ *model.GeocodedAddress, _ model.UtilityType) ([]model.Candidate, error) {
	f.calls++
	return f.query(ctx)
}

func returns(src string, tier float64, names ...string) func(context.Context) ([]model.Candidate, error) {
	return func(context.Context) ([]model.Candidate, error) {
		out := make([]model.Candidate, 0, len(names))
		for _, n := range names {
			out = append(out, model.Candidate{
				SourceName:     src,
				UtilityType:    model.Electric,
				RawName:        n,
				BaseConfidence: tier,
			})
		}
		return out, nil
	}
}

func record(recs []QueryRecord, src string) QueryRecord {
	for _, r := range recs {
		if r.Source == src {
			return r
		}
	}
	return QueryRecord{}
}

func testGeo() *model.GeocodedAddress {
	return &model.GeocodedAddress{Matched: true, Latitude: 42.19, Longitude: -122.70}
}

func TestCollectGathersAllSources(t *testing.T) {
	a := &fakeAdapter{name: "layers", types: model.AllUtilityTypes(), tier: 88,
		query: returns("layers", 88, "Pacific Power")}
	b := &fakeAdapter{name: "ziptable", types: model.AllUtilityTypes(), tier: 65,
		query: returns("ziptable", 65, "Pacific Power")}

	c := New([]source.Adapter{a, b}, resilience.NewBreakerSet(resilience.BreakerConfig{}), Config{})

	cands, recs := c.Collect(context.Background(), testGeo(), model.Electric)
	require.Len(t, cands, 2)

	// Candidate order follows adapter order regardless of completion order.
	assert.Equal(t, "layers", cands[0].SourceName)
	assert.Equal(t, "ziptable", cands[1].SourceName)

	assert.Equal(t, StatusOK, record(recs, "layers").Status)
	assert.Equal(t, 1, record(recs, "ziptable").Candidates)
}

func TestCollectAbsorbsSourceErrors(t *testing.T) {
	good := &fakeAdapter{name: "ziptable", types: model.AllUtilityTypes(), tier: 65,
		query: returns("ziptable", 65, "NW Natural")}
	bad := &fakeAdapter{name: "postgis", types: model.AllUtilityTypes(), tier: 85,
		query: func(context.Context) ([]model.Candidate, error) { return nil, assert.AnError }}

	c := New([]source.Adapter{bad, good}, resilience.NewBreakerSet(resilience.BreakerConfig{}), Config{})

	cands, recs := c.Collect(context.Background(), testGeo(), model.Gas)
	require.Len(t, cands, 1)
	assert.Equal(t, "NW Natural", cands[0].RawName)

	r := record(recs, "postgis")
	assert.Equal(t, StatusError, r.Status)
	assert.NotEmpty(t, r.Error)
}

func TestCollectSkipsUnsupportedType(t *testing.T) {
	electricOnly := &fakeAdapter{name: "layers", types: []model.UtilityType{model.Electric}, tier: 88,
		query: returns("layers", 88, "Pacific Power")}

	c := New([]source.Adapter{electricOnly}, resilience.NewBreakerSet(resilience.BreakerConfig{}), Config{})

	cands, recs := c.Collect(context.Background(), testGeo(), model.Water)
	assert.Empty(t, cands)
	assert.Equal(t, StatusEmpty, record(recs, "layers").Status)
	assert.Zero(t, electricOnly.calls)
}

func TestCollectSourceTimeout(t *testing.T) {
	slow := &fakeAdapter{name: "postgis", types: model.AllUtilityTypes(), tier: 85,
		timeout: 20 * time.Millisecond,
		query: func(ctx context.Context) ([]model.Candidate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}

	c := New([]source.Adapter{slow}, resilience.NewBreakerSet(resilience.BreakerConfig{}), Config{})

	cands, recs := c.Collect(context.Background(), testGeo(), model.Electric)
	assert.Empty(t, cands)
	assert.Equal(t, StatusTimeout, record(recs, "postgis").Status)
}

func TestCollectSkipsOpenBreaker(t *testing.T) {
	a := &fakeAdapter{name: "postgis", types: model.AllUtilityTypes(), tier: 85,
		query: returns("postgis", 85, "Pacific Power")}

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	breakers.Get("postgis").Record(assert.AnError)

	c := New([]source.Adapter{a}, breakers, Config{})

	cands, recs := c.Collect(context.Background(), testGeo(), model.Electric)
	assert.Empty(t, cands)
	assert.Equal(t, StatusSkipped, record(recs, "postgis").Status)
	assert.Zero(t, a.calls)
}

func TestCollectEarlyExitCancelsSlowSources(t *testing.T) {
	released := make(chan struct{})
	direct := &fakeAdapter{name: "override", types: model.AllUtilityTypes(), tier: 99,
		query: func(context.Context) ([]model.Candidate, error) {
			return []model.Candidate{{
				SourceName:       "override",
				UtilityType:      model.Electric,
				RawName:          "Ashland Municipal Electric",
				BaseConfidence:   99,
				DirectConfidence: true,
			}}, nil
		}}
	slow := &fakeAdapter{name: "postgis", types: model.AllUtilityTypes(), tier: 85,
		timeout: 5 * time.Second,
		query: func(ctx context.Context) ([]model.Candidate, error) {
			defer close(released)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		}}

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	c := New([]source.Adapter{direct, slow}, breakers, Config{EarlyExitThreshold: 97})

	start := time.Now()
	cands, recs := c.Collect(context.Background(), testGeo(), model.Electric)
	<-released

	require.Len(t, cands, 1)
	assert.Equal(t, "override", cands[0].SourceName)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusCanceled, record(recs, "postgis").Status)

	// The early-exit cancellation must not count as a postgis failure.
	assert.Equal(t, resilience.BreakerClosed, breakers.Get("postgis").State())
}
