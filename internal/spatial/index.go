// Package spatial holds the preloaded service-territory polygon layers and
// answers point-in-polygon queries against them.
package spatial

import (
	"math"
	"sync"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/gridseek/utility-cli/internal/model"
)

// Feature is one service-territory polygon with its attributes.
type Feature struct {
	ID            string
	Name          string
	State         string
	OperatorType  model.OperatorType
	CustomerCount int
	RegulatorID   string
	UtilityType   model.UtilityType
	AreaKM2       float64

	geometry *geom.MultiPolygon
	bounds   *geom.Bounds
}

// gridCellDeg is the coarse grid cell size in degrees. Half a degree keeps
// statewide territories in a handful of cells while municipal polygons land
// in one.
const gridCellDeg = 0.5

type cellKey struct{ x, y int }

func cellOf(lon, lat float64) cellKey {
	return cellKey{
		x: int(math.Floor(lon / gridCellDeg)),
		y: int(math.Floor(lat / gridCellDeg)),
	}
}

// Index is the in-memory spatial index: per utility type, features bucketed
// into a coarse lon/lat grid by bounding box, so a point query scans one
// bucket instead of the whole layer. Layers are loaded once and the index is
// read-only afterwards, so queries take no locks.
type Index struct {
	loadMu   sync.Mutex
	features map[model.UtilityType][]*Feature
	grid     map[model.UtilityType]map[cellKey][]*Feature
	loaded   bool
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		features: make(map[model.UtilityType][]*Feature),
		grid:     make(map[model.UtilityType]map[cellKey][]*Feature),
	}
}

// Add registers a feature under its utility type in every grid cell its
// bounding box overlaps. Add is only valid during load, before Seal.
func (ix *Index) Add(f *Feature) {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	if f.geometry == nil {
		return
	}
	f.bounds = f.geometry.Bounds()
	if f.AreaKM2 == 0 {
		f.AreaKM2 = areaKM2(f.geometry)
	}
	ix.features[f.UtilityType] = append(ix.features[f.UtilityType], f)

	cells := ix.grid[f.UtilityType]
	if cells == nil {
		cells = make(map[cellKey][]*Feature)
		ix.grid[f.UtilityType] = cells
	}
	lo := cellOf(f.bounds.Min(0), f.bounds.Min(1))
	hi := cellOf(f.bounds.Max(0), f.bounds.Max(1))
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			k := cellKey{x, y}
			cells[k] = append(cells[k], f)
		}
	}
}

// Seal marks loading as complete.
func (ix *Index) Seal() {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	ix.loaded = true
}

// Loaded reports whether the index finished loading.
func (ix *Index) Loaded() bool {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	return ix.loaded
}

// Count returns the number of features held for a utility type.
func (ix *Index) Count(t model.UtilityType) int {
	return len(ix.features[t])
}

// Query returns every feature of the utility type whose polygon contains
// the point. Overlapping territories yield multiple features; the overlap
// resolver downstream owns the tie-break.
func (ix *Index) Query(t model.UtilityType, lon, lat float64) []*Feature {
	var hits []*Feature
	pt := geom.Coord{lon, lat}
	for _, f := range ix.grid[t][cellOf(lon, lat)] {
		if !boundsContain(f.bounds, lon, lat) {
			continue
		}
		if multiPolygonContains(f.geometry, pt) {
			hits = append(hits, f)
		}
	}
	return hits
}

// NewFeatureFromRings builds a Feature from lon/lat rings. Used by loaders
// and tests constructing synthetic territories.
func NewFeatureFromRings(rings [][]geom.Coord) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, ring := range rings {
		flat := make([]float64, 0, len(ring)*2)
		for _, c := range ring {
			flat = append(flat, c[0], c[1])
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func boundsContain(b *geom.Bounds, lon, lat float64) bool {
	return b != nil &&
		lon >= b.Min(0) && lon <= b.Max(0) &&
		lat >= b.Min(1) && lat <= b.Max(1)
}

// multiPolygonContains applies even-odd containment across every ring, so
// holes are handled without tracking ring orientation.
func multiPolygonContains(mp *geom.MultiPolygon, pt geom.Coord) bool {
	inside := false
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			if xy.IsPointInRing(poly.Layout(), pt, poly.LinearRing(j).FlatCoords()) {
				inside = !inside
			}
		}
	}
	return inside
}

// areaKM2 approximates the geodesic area of a lon/lat multipolygon. Signed
// shoelace areas per ring make holes subtract from their shell.
func areaKM2(mp *geom.MultiPolygon) float64 {
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			total += signedRingAreaKM2(poly.LinearRing(j).FlatCoords())
		}
	}
	return math.Abs(total)
}

const (
	kmPerDegLat = 110.574
	kmPerDegLon = 111.320
)

func signedRingAreaKM2(flat []float64) float64 {
	n := len(flat) / 2
	if n < 3 {
		return 0
	}

	var sumLat float64
	for i := 0; i < n; i++ {
		sumLat += flat[i*2+1]
	}
	meanLat := sumLat / float64(n)
	lonScale := kmPerDegLon * math.Cos(meanLat*math.Pi/180)

	var area float64
	for i := 0; i < n; i++ {
		x1, y1 := flat[i*2]*lonScale, flat[i*2+1]*kmPerDegLat
		k := (i + 1) % n
		x2, y2 := flat[k*2]*lonScale, flat[k*2+1]*kmPerDegLat
		area += x1*y2 - x2*y1
	}
	return area / 2
}
