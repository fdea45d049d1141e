package source

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseek/utility-cli/internal/model"
)

func TestPostGISQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	opType := "investor_owned"
	customers := 740000
	regID := "OR-E-001"

	mock.ExpectQuery("SELECT name, state, operator_type").
		WithArgs("electric", -122.7, 42.19).
		WillReturnRows(pgxmock.NewRows(
			[]string{"name", "state", "operator_type", "customer_count", "regulator_id", "area_km2"},
		).AddRow("Pacific Power", "OR", &opType, &customers, &regID, 84712.5))

	src := NewPostGISSource(mock, 85, time.Second)
	geo := &model.GeocodedAddress{Longitude: -122.7, Latitude: 42.19}

	cands, err := src.Query(context.Background(), geo, model.Electric)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, "postgis", c.SourceName)
	assert.Equal(t, "Pacific Power", c.RawName)
	assert.Equal(t, 85.0, c.BaseConfidence)
	assert.Equal(t, model.PrecisionPoint, c.Precision)
	assert.Equal(t, model.OperatorInvestor, c.OperatorType)
	assert.Equal(t, 740000, c.CustomerCount)
	assert.Equal(t, "OR-E-001", c.RegulatorID)
	assert.InDelta(t, 84712.5, c.AreaKM2, 0.01)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGISQueryNullableColumns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name, state, operator_type").
		WithArgs("water", -122.7, 42.19).
		WillReturnRows(pgxmock.NewRows(
			[]string{"name", "state", "operator_type", "customer_count", "regulator_id", "area_km2"},
		).AddRow("Talent Irrigation District", "OR", nil, nil, nil, 310.0))

	src := NewPostGISSource(mock, 85, time.Second)
	cands, err := src.Query(context.Background(), &model.GeocodedAddress{Longitude: -122.7, Latitude: 42.19}, model.Water)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	assert.Equal(t, model.OperatorUnknown, cands[0].OperatorType)
	assert.Zero(t, cands[0].CustomerCount)
	assert.Empty(t, cands[0].RegulatorID)
}

func TestPostGISQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name, state, operator_type").
		WithArgs("gas", -122.7, 42.19).
		WillReturnError(assert.AnError)

	src := NewPostGISSource(mock, 85, time.Second)
	_, err = src.Query(context.Background(), &model.GeocodedAddress{Longitude: -122.7, Latitude: 42.19}, model.Gas)
	assert.Error(t, err)
}
