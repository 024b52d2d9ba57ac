// Package geometry derives display values for AOI boundaries: the
// centroid grid reference and a planar area summary. All math is a
// local planar approximation, adequate at AOI scale (tens of km).
package geometry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aoi-tools/aoi-workbench/internal/mgrs"
)

// meters per degree of latitude; longitude is scaled by cos(lat).
const metersPerDegree = 111320.0

// DefaultSquareHalfWidthDeg is the fixed angular half-width of squares
// synthesized for manual grid-reference entry.
const DefaultSquareHalfWidthDeg = 0.01

var ErrDegeneratePolygon = errors.New("geometry: polygon needs at least 3 vertices")

// Vertex is a (latitude, longitude) pair.
type Vertex struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Derived is what the engine computes for a boundary.
type Derived struct {
	MGRS       string
	AreaSqM    float64
	Dimensions string
}

// Engine memoizes derived values in a bounded LRU keyed by a hash of
// the boundary, so re-imports and redraws of identical geometry skip
// the conversion work.
type Engine struct {
	memo *lru.Cache[uint64, Derived]
}

func NewEngine(cacheSize int) *Engine {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, _ := lru.New[uint64, Derived](cacheSize)
	return &Engine{memo: c}
}

// Derive computes the centroid MGRS and planar-area summary for a
// boundary of at least 3 vertices.
func (e *Engine) Derive(vertices []Vertex) (Derived, error) {
	if len(vertices) < 3 {
		return Derived{}, ErrDegeneratePolygon
	}

	key := BoundaryHash(vertices)
	if d, ok := e.memo.Get(key); ok {
		return d, nil
	}

	ref, err := CentroidMGRS(vertices)
	if err != nil {
		return Derived{}, err
	}
	area := PlanarArea(vertices)

	d := Derived{
		MGRS:       ref,
		AreaSqM:    area,
		Dimensions: FormatArea(area),
	}
	e.memo.Add(key, d)
	return d, nil
}

// BoundaryHash returns a stable hash of a vertex sequence.
func BoundaryHash(vertices []Vertex) uint64 {
	var h xxhash.Digest
	var buf [16]byte
	for _, v := range vertices {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(v.Lat))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(v.Lon))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// CentroidMGRS converts the arithmetic mean of the vertices to a grid
// reference. This is a planar vertex centroid, not an area centroid.
func CentroidMGRS(vertices []Vertex) (string, error) {
	if len(vertices) == 0 {
		return "", ErrDegeneratePolygon
	}
	var sumLat, sumLon float64
	for _, v := range vertices {
		sumLat += v.Lat
		sumLon += v.Lon
	}
	n := float64(len(vertices))
	return mgrs.ToMGRS(sumLat/n, sumLon/n)
}

// PlanarArea computes the shoelace area of the boundary in square
// meters, treating degrees as planar after a meters-per-degree scale
// correction at the polygon's mean latitude. Error grows with polygon
// size and latitude.
func PlanarArea(vertices []Vertex) float64 {
	if len(vertices) < 3 {
		return 0
	}
	var sumLat float64
	for _, v := range vertices {
		sumLat += v.Lat
	}
	meanLat := sumLat / float64(len(vertices))
	lonScale := metersPerDegree * math.Cos(meanLat*math.Pi/180)

	var area float64
	n := len(vertices)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		xi := vertices[i].Lon * lonScale
		yi := vertices[i].Lat * metersPerDegree
		xj := vertices[j].Lon * lonScale
		yj := vertices[j].Lat * metersPerDegree
		area += xi*yj - xj*yi
	}
	return math.Abs(area) / 2
}

// FormatArea renders the free-text dimensions summary.
func FormatArea(sqm float64) string {
	return fmt.Sprintf("%.0f sq m", sqm)
}

// SquareFromCenter synthesizes the 4-vertex axis-aligned square used
// for manual grid-reference entry. The half-width is a fixed angular
// value regardless of any requested dimensions.
func SquareFromCenter(lat, lon, halfWidthDeg float64) []Vertex {
	if halfWidthDeg <= 0 {
		halfWidthDeg = DefaultSquareHalfWidthDeg
	}
	return []Vertex{
		{Lat: lat - halfWidthDeg, Lon: lon - halfWidthDeg},
		{Lat: lat - halfWidthDeg, Lon: lon + halfWidthDeg},
		{Lat: lat + halfWidthDeg, Lon: lon + halfWidthDeg},
		{Lat: lat + halfWidthDeg, Lon: lon - halfWidthDeg},
	}
}
