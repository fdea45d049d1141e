package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gridseek/utility-cli/internal/model"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleProvider geocodes via the Google Geocoding API. Last resort in the
// default chain: best coverage, paid per call.
type GoogleProvider struct {
	key        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGoogle creates a GoogleProvider. An empty key yields a provider whose
// queries fail, so the chain builder should skip it instead.
func NewGoogle(key string, hc *http.Client) *GoogleProvider {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleProvider{
		key:        key,
		httpClient: hc,
		limiter:    rate.NewLimiter(25, 25),
	}
}

func (p *GoogleProvider) Name() string { return "google" }

type googleGeocodeResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
}

// Geocode resolves a single address.
func (p *GoogleProvider) Geocode(ctx context.Context, addr Address) (*model.GeocodedAddress, error) {
	if p.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{
		"address": {addr.OneLine()},
		"key":     {p.key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: google returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var gr googleGeocodeResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	if gr.Status != "OK" || len(gr.Results) == 0 {
		return &model.GeocodedAddress{Matched: false, Source: p.Name()}, nil
	}

	r := gr.Results[0]
	quality := googleLocationTypeToQuality(r.Geometry.LocationType)
	out := &model.GeocodedAddress{
		Latitude:       r.Geometry.Location.Lat,
		Longitude:      r.Geometry.Location.Lng,
		MatchedAddress: r.FormattedAddress,
		Source:         p.Name(),
		Quality:        quality,
		Confidence:     qualityConfidence(quality),
		Matched:        true,
	}
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "postal_code":
				out.Zip5 = zip5(comp.ShortName)
			case "administrative_area_level_1":
				out.State = comp.ShortName
			case "administrative_area_level_2":
				out.County = strings.TrimSuffix(comp.LongName, " County")
			case "locality":
				out.City = comp.LongName
			}
		}
	}
	return out, nil
}

// googleLocationTypeToQuality maps Google's location_type to the shared
// quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
