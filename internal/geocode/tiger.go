package geocode

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/model"
)

// RowQuerier is the slice of pgxpool.Pool the TIGER provider needs; pgxmock
// satisfies it in tests.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TigerProvider geocodes against a local PostGIS TIGER database. No network
// egress and no per-call cost, so it sits between census and google in the
// default chain.
type TigerProvider struct {
	pool      RowQuerier
	maxRating int
}

// NewTiger creates a TigerProvider. Matches with a rating above maxRating
// are treated as non-matches; lower ratings are better, 0 is exact.
func NewTiger(pool RowQuerier, maxRating int) *TigerProvider {
	if maxRating <= 0 {
		maxRating = 20
	}
	return &TigerProvider{pool: pool, maxRating: maxRating}
}

func (p *TigerProvider) Name() string { return "tiger" }

// Geocode resolves a single address through the PostGIS geocode() function.
func (p *TigerProvider) Geocode(ctx context.Context, addr Address) (*model.GeocodedAddress, error) {
	oneLine := addr.OneLine()
	if oneLine == "" {
		return &model.GeocodedAddress{Matched: false, Source: p.Name()}, nil
	}

	var lat, lon float64
	var rating int
	var matchedAddr, zip, state string

	row := p.pool.QueryRow(ctx, `
		SELECT
			ST_Y(geomout) AS lat,
			ST_X(geomout) AS lon,
			rating,
			pprint_addy(addy) AS matched_address,
			(addy).zip,
			(addy).stateabbrev
		FROM geocode($1, 1)`,
		oneLine,
	)

	if err := row.Scan(&lat, &lon, &rating, &matchedAddr, &zip, &state); err != nil {
		// No rows means no match, not a failure.
		zap.L().Debug("tiger geocode: no match",
			zap.String("address", oneLine),
			zap.Error(err),
		)
		return &model.GeocodedAddress{Matched: false, Source: p.Name()}, nil
	}

	if rating > p.maxRating {
		zap.L().Debug("tiger geocode: rating exceeds threshold",
			zap.String("address", oneLine),
			zap.Int("rating", rating),
			zap.Int("max_rating", p.maxRating),
		)
		return &model.GeocodedAddress{Matched: false, Source: p.Name()}, nil
	}

	quality := ratingToQuality(rating)
	return &model.GeocodedAddress{
		Latitude:       lat,
		Longitude:      lon,
		MatchedAddress: matchedAddr,
		State:          state,
		Zip5:           zip5(zip),
		Source:         p.Name(),
		Quality:        quality,
		Confidence:     qualityConfidence(quality),
		Matched:        true,
	}, nil
}

// ratingToQuality maps the PostGIS geocoder rating to the shared taxonomy.
func ratingToQuality(rating int) string {
	switch {
	case rating < 10:
		return "rooftop"
	case rating < 20:
		return "range"
	case rating < 50:
		return "centroid"
	default:
		return "approximate"
	}
}
