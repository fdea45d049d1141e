package spatial

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/model"
)

// Attribute names expected in territory shapefiles. Layer construction is
// out of scope here; the publisher guarantees this schema.
const (
	attrName      = "name"
	attrState     = "state"
	attrType      = "type"
	attrCustomers = "customers"
	attrID        = "id"
	attrRegID     = "reg_id"
)

// LoadDir loads one shapefile per utility type from dir. files maps utility
// type name to shapefile basename; missing entries are skipped with a
// warning so a deployment can run with a subset of layers.
func LoadDir(dir string, files map[string]string) (*Index, error) {
	ix := NewIndex()
	for typeName, base := range files {
		t := model.UtilityType(typeName)
		if !t.Valid() {
			return nil, eris.Errorf("spatial: unknown utility type %q in layer config", typeName)
		}
		path := filepath.Join(dir, base)
		n, err := loadLayer(ix, path, t)
		if err != nil {
			return nil, err
		}
		zap.L().Info("spatial: loaded layer",
			zap.String("utility_type", typeName),
			zap.String("path", path),
			zap.Int("features", n),
		)
	}
	ix.Seal()
	return ix, nil
}

// loadLayer reads one shapefile into the index.
func loadLayer(ix *Index, path string, t model.UtilityType) (int, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "spatial: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(name string) string {
		idx, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var loaded, skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		geometry := shpPolygonToMultiPolygon(poly)
		if geometry == nil {
			skipped++
			continue
		}

		customers := 0
		if raw := attr(attrCustomers); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				customers = n
			}
		}

		id := attr(attrID)
		if id == "" {
			id = attr(attrRegID)
		}

		ix.Add(&Feature{
			ID:            id,
			Name:          attr(attrName),
			State:         strings.ToUpper(attr(attrState)),
			OperatorType:  model.OperatorType(strings.ToLower(attr(attrType))),
			CustomerCount: customers,
			RegulatorID:   attr(attrRegID),
			UtilityType:   t,
			geometry:      geometry,
		})
		loaded++
	}

	if skipped > 0 {
		zap.L().Debug("spatial: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return loaded, nil
}

// shpPolygonToMultiPolygon converts a shapefile polygon to a go-geom
// multipolygon, one single-ring polygon per part.
func shpPolygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("spatial: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("spatial: skipping malformed part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// NewTestFeature builds a sealed feature from rings, for synthetic layers
// in tests and fixtures.
func NewTestFeature(t model.UtilityType, id, name, state string, op model.OperatorType, customers int, rings [][]geom.Coord) *Feature {
	return &Feature{
		ID:            id,
		Name:          name,
		State:         state,
		OperatorType:  op,
		CustomerCount: customers,
		UtilityType:   t,
		geometry:      NewFeatureFromRings(rings),
	}
}
