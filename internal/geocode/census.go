package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gridseek/utility-cli/internal/model"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/geographies/onelineaddress"
	censusBatchURL   = "https://geocoding.geo.census.gov/geocoder/locations/addressbatch"
	censusBenchmark  = "Public_AR_Current"
	censusVintage    = "Current_Current"
)

// CensusProvider geocodes via the Census Bureau geocoder. The geographies
// endpoint also returns the containing county, which the overlap rules need.
type CensusProvider struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewCensus creates a CensusProvider limited to rps requests per second.
func NewCensus(rps float64, hc *http.Client) *CensusProvider {
	if rps <= 0 {
		rps = 50
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &CensusProvider{
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

func (p *CensusProvider) Name() string { return "census" }

type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress    string `json:"matchedAddress"`
	AddressComponents struct {
		City  string `json:"city"`
		State string `json:"state"`
		Zip   string `json:"zip"`
	} `json:"addressComponents"`
	Geographies map[string][]struct {
		Name  string `json:"NAME"`
		GeoID string `json:"GEOID"`
	} `json:"geographies"`
}

// Geocode resolves a single address through the one-line endpoint.
func (p *CensusProvider) Geocode(ctx context.Context, addr Address) (*model.GeocodedAddress, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census rate limit")
	}

	params := url.Values{
		"address":   {addr.OneLine()},
		"benchmark": {censusBenchmark},
		"vintage":   {censusVintage},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, censusOneLineURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census build request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: census returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census read body")
	}

	var cr censusOneLineResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}

	if len(cr.Result.AddressMatches) == 0 {
		return &model.GeocodedAddress{Matched: false, Source: p.Name()}, nil
	}

	m := cr.Result.AddressMatches[0]
	out := &model.GeocodedAddress{
		Latitude:       m.Coordinates.Y,
		Longitude:      m.Coordinates.X,
		MatchedAddress: m.MatchedAddress,
		City:           m.AddressComponents.City,
		State:          m.AddressComponents.State,
		Zip5:           zip5(m.AddressComponents.Zip),
		Source:         p.Name(),
		Quality:        "rooftop",
		Confidence:     qualityConfidence("rooftop"),
		Matched:        true,
	}
	if counties, ok := m.Geographies["Counties"]; ok && len(counties) > 0 {
		out.County = counties[0].Name
	}
	if blocks, ok := m.Geographies["Census Blocks"]; ok && len(blocks) > 0 {
		out.CensusBlockID = blocks[0].GeoID
	}
	return out, nil
}

// GeocodeBatch geocodes up to 10,000 addresses via the batch CSV endpoint.
// Results are positional: results[i] answers addrs[i].
func (p *CensusProvider) GeocodeBatch(ctx context.Context, addrs []Address) ([]model.GeocodedAddress, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch rate limit")
	}

	var csv strings.Builder
	idToIdx := make(map[string]int, len(addrs))
	for i, addr := range addrs {
		id := addr.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		idToIdx[id] = i
		fmt.Fprintf(&csv, "%s,%s,%s,%s,%s\n", id, addr.Street, addr.City, addr.State, addr.Zip5)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("benchmark", censusBenchmark); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch write benchmark")
	}
	part, err := writer.CreateFormFile("addressFile", "addresses.csv")
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch create form file")
	}
	if _, err := part.Write([]byte(csv.String())); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch write csv")
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch close writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, censusBatchURL, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: census batch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch read body")
	}

	return parseCensusBatch(string(body), idToIdx, len(addrs)), nil
}

// parseCensusBatch parses the batch CSV response. Format per line:
// "id","input address","match","exact/non_exact","matched address","lon,lat",tigerlineid,side
func parseCensusBatch(body string, idToIdx map[string]int, total int) []model.GeocodedAddress {
	results := make([]model.GeocodedAddress, total)
	for i := range results {
		results[i] = model.GeocodedAddress{Matched: false, Source: "census"}
	}

	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitCSVLine(line)
		if len(fields) < 6 {
			continue
		}

		id := strings.Trim(fields[0], "\"")
		idx, ok := idToIdx[id]
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.Trim(fields[2], "\""), "Match") {
			continue
		}

		quality := "range"
		if strings.EqualFold(strings.Trim(fields[3], "\""), "exact") {
			quality = "rooftop"
		}

		lon, lat, err := parseLonLat(strings.Trim(fields[5], "\""))
		if err != nil {
			continue
		}

		matched := strings.Trim(fields[4], "\"")
		results[idx] = model.GeocodedAddress{
			Latitude:       lat,
			Longitude:      lon,
			MatchedAddress: matched,
			Zip5:           zip5FromMatched(matched),
			Source:         "census",
			Quality:        quality,
			Confidence:     qualityConfidence(quality),
			Matched:        true,
		}
	}
	return results
}

func parseLonLat(coords string) (lon, lat float64, err error) {
	parts := strings.SplitN(coords, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("geocode: invalid census coords %q", coords)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse census lon")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse census lat")
	}
	return lon, lat, nil
}

// splitCSVLine splits a CSV line handling quoted fields.
func splitCSVLine(line string) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteRune(ch)
		case ch == ',' && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	fields = append(fields, current.String())
	return fields
}

func zip5(zip string) string {
	if len(zip) >= 5 {
		return zip[:5]
	}
	return zip
}

// zip5FromMatched pulls the trailing ZIP out of a matched address string.
func zip5FromMatched(matched string) string {
	if m := zipRe.FindStringSubmatch(matched); m != nil {
		return m[1]
	}
	return ""
}
