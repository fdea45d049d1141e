package geocode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/model"
)

// fakeProvider is a scriptable chain member.
type fakeProvider struct {
	name    string
	geocode func(addr Address) (*model.GeocodedAddress, error)
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Geocode(_ context.Context, addr Address) (*model.GeocodedAddress, error) {
	f.calls++
	return f.geocode(addr)
}

// fakeBatchProvider adds a scriptable bulk endpoint.
type fakeBatchProvider struct {
	fakeProvider
	batch      func(addrs []Address) ([]model.GeocodedAddress, error)
	batchCalls int
}

func (f *fakeBatchProvider) GeocodeBatch(_ context.Context, addrs []Address) ([]model.GeocodedAddress, error) {
	f.batchCalls++
	return f.batch(addrs)
}

func matched(lat, lon float64, zip string) *model.GeocodedAddress {
	return &model.GeocodedAddress{
		Matched: true, Latitude: lat, Longitude: lon, Zip5: zip,
		Quality: "rooftop", Source: "test",
	}
}

func unmatchedAlways(Address) (*model.GeocodedAddress, error) {
	return &model.GeocodedAddress{Matched: false}, nil
}

func testAddr() Address {
	return Address{Street: "201 Oak St", City: "Ashland", State: "OR", Zip5: "97520"}
}

func TestParseOneLine(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Address
	}{
		{
			name: "full line",
			in:   "201 Oak St, Ashland, OR 97520",
			want: Address{Street: "201 Oak St", City: "Ashland", State: "OR", Zip5: "97520"},
		},
		{
			name: "zip+4 collapses to zip5",
			in:   "201 Oak St, Ashland, OR 97520-1234",
			want: Address{Street: "201 Oak St", City: "Ashland", State: "OR", Zip5: "97520"},
		},
		{
			name: "lowercase state",
			in:   "201 Oak St, Ashland, or 97520",
			want: Address{Street: "201 Oak St", City: "Ashland", State: "OR", Zip5: "97520"},
		},
		{
			name: "no zip",
			in:   "201 Oak St, Ashland, OR",
			want: Address{Street: "201 Oak St", City: "Ashland", State: "OR"},
		},
		{
			name: "street only",
			in:   "201 Oak St",
			want: Address{Street: "201 Oak St"},
		},
		{
			name: "multi-part street keeps commas",
			in:   "Bldg 4, 201 Oak St, Ashland, OR 97520",
			want: Address{Street: "Bldg 4, 201 Oak St", City: "Ashland", State: "OR", Zip5: "97520"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseOneLine(tc.in))
		})
	}
}

func TestImplausible(t *testing.T) {
	addr := testAddr()

	assert.Equal(t, "null_island",
		implausible(addr, &model.GeocodedAddress{Matched: true}))
	assert.Equal(t, "out_of_range",
		implausible(addr, &model.GeocodedAddress{Matched: true, Latitude: 91, Longitude: 10}))
	// A hit in a different ZIP sectional center is the wrong place.
	assert.Equal(t, "zip_prefix_mismatch",
		implausible(addr, matched(42.19, -122.70, "30301")))
	// Same sectional center, different last digits: fine.
	assert.Empty(t, implausible(addr, matched(42.19, -122.70, "97501")))
	// Missing ZIPs skip the check.
	assert.Empty(t, implausible(Address{Street: "201 Oak St"}, matched(42.19, -122.70, "")))
}

func TestChainFallsThroughProviders(t *testing.T) {
	failing := &fakeProvider{name: "census", geocode: func(Address) (*model.GeocodedAddress, error) {
		return nil, assert.AnError
	}}
	unmatchedP := &fakeProvider{name: "tiger", geocode: unmatchedAlways}
	good := &fakeProvider{name: "google", geocode: func(Address) (*model.GeocodedAddress, error) {
		return matched(42.19, -122.70, "97520"), nil
	}}

	chain := NewChain(config.GeocodeConfig{}, failing, unmatchedP, good)
	got, err := chain.Geocode(context.Background(), testAddr())
	require.NoError(t, err)
	require.True(t, got.Matched)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, unmatchedP.calls)
	assert.Equal(t, "201 Oak St, Ashland, OR 97520", got.InputAddress)
	// Provider left state empty; it is backfilled from the input.
	assert.Equal(t, "OR", got.State)
}

func TestChainRejectsImplausibleAndContinues(t *testing.T) {
	wrongPlace := &fakeProvider{name: "census", geocode: func(Address) (*model.GeocodedAddress, error) {
		return matched(33.74, -84.38, "30301"), nil
	}}
	good := &fakeProvider{name: "google", geocode: func(Address) (*model.GeocodedAddress, error) {
		return matched(42.19, -122.70, "97520"), nil
	}}

	chain := NewChain(config.GeocodeConfig{}, wrongPlace, good)
	got, err := chain.Geocode(context.Background(), testAddr())
	require.NoError(t, err)
	assert.Equal(t, "97520", got.Zip5)
	assert.Equal(t, 1, good.calls)
}

func TestChainExhaustedIsUnmatchedNotError(t *testing.T) {
	p := &fakeProvider{name: "census", geocode: unmatchedAlways}
	chain := NewChain(config.GeocodeConfig{}, p)

	got, err := chain.Geocode(context.Background(), testAddr())
	require.NoError(t, err)
	assert.False(t, got.Matched)
	assert.Equal(t, "201 Oak St, Ashland, OR 97520", got.InputAddress)
}

func TestChainCachesSuccessesAndFailures(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	hit := &fakeProvider{name: "census", geocode: func(Address) (*model.GeocodedAddress, error) {
		return matched(42.19, -122.70, "97520"), nil
	}}
	chain := NewChain(config.GeocodeConfig{}, hit).WithNow(func() time.Time { return now })

	_, err := chain.Geocode(context.Background(), testAddr())
	require.NoError(t, err)
	_, err = chain.Geocode(context.Background(), testAddr())
	require.NoError(t, err)
	assert.Equal(t, 1, hit.calls, "second lookup must come from cache")

	// Failure caching: the provider is not re-queried within the short TTL
	// but is queried again after it lapses.
	miss := &fakeProvider{name: "census", geocode: unmatchedAlways}
	chain = NewChain(config.GeocodeConfig{}, miss).WithNow(func() time.Time { return now })

	other := Address{Street: "1 Nowhere Ln", City: "Ashland", State: "OR", Zip5: "97520"}
	_, _ = chain.Geocode(context.Background(), other)
	_, _ = chain.Geocode(context.Background(), other)
	assert.Equal(t, 1, miss.calls)

	now = now.Add(7 * time.Hour) // past the 6h failure TTL
	_, _ = chain.Geocode(context.Background(), other)
	assert.Equal(t, 2, miss.calls)
}

func TestChainContextCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{name: "census", geocode: func(Address) (*model.GeocodedAddress, error) {
		cancel()
		return nil, context.Canceled
	}}
	chain := NewChain(config.GeocodeConfig{}, p)

	_, err := chain.Geocode(ctx, testAddr())
	assert.Error(t, err)
}

func TestGeocodeBatch(t *testing.T) {
	addrs := []Address{
		testAddr(),
		{Street: "500 Pine St", City: "Medford", State: "OR", Zip5: "97501"},
		{Street: "1 Nowhere Ln", City: "Ashland", State: "OR", Zip5: "97520"},
	}

	batcher := &fakeBatchProvider{
		fakeProvider: fakeProvider{name: "census", geocode: func(addr Address) (*model.GeocodedAddress, error) {
			// Single-address fallback resolves the row batch left unmatched.
			if addr.Street == "1 Nowhere Ln" {
				return matched(42.20, -122.69, "97520"), nil
			}
			return &model.GeocodedAddress{Matched: false}, nil
		}},
		batch: func(batch []Address) ([]model.GeocodedAddress, error) {
			out := make([]model.GeocodedAddress, len(batch))
			out[0] = *matched(42.19, -122.70, "97520")
			out[1] = *matched(42.33, -122.87, "97501")
			// out[2] stays unmatched
			return out, nil
		},
	}

	chain := NewChain(config.GeocodeConfig{BatchRetries: 1}, batcher)
	got, err := chain.GeocodeBatch(context.Background(), addrs)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, got[0].Matched)
	assert.True(t, got[1].Matched)
	assert.True(t, got[2].Matched, "unmatched batch row must fall back to the single chain")
	assert.Equal(t, 1, batcher.batchCalls)
	assert.Equal(t, "201 Oak St, Ashland, OR 97520", got[0].InputAddress)
}

func TestGeocodeBatchFailureFallsBackToSingles(t *testing.T) {
	batcher := &fakeBatchProvider{
		fakeProvider: fakeProvider{name: "census", geocode: func(Address) (*model.GeocodedAddress, error) {
			return matched(42.19, -122.70, "97520"), nil
		}},
		batch: func([]Address) ([]model.GeocodedAddress, error) {
			return nil, assert.AnError
		},
	}

	chain := NewChain(config.GeocodeConfig{BatchRetries: 2}, batcher)
	got, err := chain.GeocodeBatch(context.Background(), []Address{testAddr()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Matched)
	assert.Equal(t, 2, batcher.batchCalls, "chunk failure retries before degrading")
}

func TestGeocodeBatchEmpty(t *testing.T) {
	chain := NewChain(config.GeocodeConfig{})
	got, err := chain.GeocodeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQualityConfidence(t *testing.T) {
	assert.Equal(t, 0.95, qualityConfidence("rooftop"))
	assert.Equal(t, 0.85, qualityConfidence("range"))
	assert.Equal(t, 0.70, qualityConfidence("centroid"))
	assert.Equal(t, 0.50, qualityConfidence("unknown"))
}
