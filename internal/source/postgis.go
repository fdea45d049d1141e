package source

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/gridseek/utility-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the PostGIS source needs. Satisfied by
// pgxmock in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostGISSource queries a live PostGIS territory service. Connections are
// pooled by pgx; one query per lookup per utility type.
type PostGISSource struct {
	pool    Pool
	tier    float64
	timeout time.Duration
	types   []model.UtilityType
}

// NewPostGISSource creates a PostGISSource over the given pool.
func NewPostGISSource(pool Pool, tier float64, timeout time.Duration) *PostGISSource {
	return &PostGISSource{
		pool:    pool,
		tier:    tier,
		timeout: timeout,
		types:   model.AllUtilityTypes(),
	}
}

// Name implements Adapter.
func (s *PostGISSource) Name() string { return "postgis" }

// SupportedTypes implements Adapter.
func (s *PostGISSource) SupportedTypes() []model.UtilityType { return s.types }

// BaseConfidence implements Adapter.
func (s *PostGISSource) BaseConfidence() float64 { return s.tier }

// Timeout implements Adapter.
func (s *PostGISSource) Timeout() time.Duration { return s.timeout }

const territoryQuery = `
	SELECT name, state, operator_type, customer_count, regulator_id,
	       ST_Area(geom::geography) / 1e6 AS area_km2
	FROM territories
	WHERE utility_type = $1
	  AND ST_Contains(geom, ST_SetSRID(ST_MakePoint($2, $3), 4326))`

// Query implements Adapter.
func (s *PostGISSource) Query(ctx context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, territoryQuery, string(t), geo.Longitude, geo.Latitude)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: territory query")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var (
			name, state   string
			opType        *string
			customerCount *int
			regulatorID   *string
			areaKM2       float64
		)
		if err := rows.Scan(&name, &state, &opType, &customerCount, &regulatorID, &areaKM2); err != nil {
			return nil, eris.Wrap(err, "postgis: scan territory row")
		}

		c := model.Candidate{
			SourceName:     s.Name(),
			UtilityType:    t,
			RawName:        name,
			BaseConfidence: s.tier,
			Precision:      model.PrecisionPoint,
			AreaKM2:        areaKM2,
			State:          state,
		}
		if opType != nil {
			c.OperatorType = model.OperatorType(*opType)
		}
		if customerCount != nil {
			c.CustomerCount = *customerCount
		}
		if regulatorID != nil {
			c.RegulatorID = *regulatorID
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgis: iterate territory rows")
	}
	return out, nil
}
