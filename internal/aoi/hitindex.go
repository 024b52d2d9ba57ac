package aoi

import (
	"log/slog"

	h3 "github.com/uber/h3-go/v4"

	"github.com/aoi-tools/aoi-workbench/internal/geometry"
)

// DefaultHitTestResolution balances cell count against lookup
// selectivity at typical AOI sizes (hundreds of meters to tens of km).
const DefaultHitTestResolution = 7

// hitIndex maps H3 cells to the ids of areas that may cover them.
// Polyfill only includes cells whose center falls inside the boundary,
// so each cell set is widened by one grid ring to keep edge clicks
// inside the candidate set; the repository confirms candidates with an
// exact ray cast. Callers hold the repository lock.
type hitIndex struct {
	res     int
	byCell  map[h3.Cell][]string
	cellsOf map[string][]h3.Cell
}

func newHitIndex(res int) *hitIndex {
	if res < 0 || res > 15 {
		res = DefaultHitTestResolution
	}
	return &hitIndex{
		res:     res,
		byCell:  make(map[h3.Cell][]string),
		cellsOf: make(map[string][]h3.Cell),
	}
}

func (x *hitIndex) reset() {
	x.byCell = make(map[h3.Cell][]string)
	x.cellsOf = make(map[string][]h3.Cell)
}

func (x *hitIndex) add(id string, vertices []geometry.Vertex, logger *slog.Logger) {
	cells, err := coverCells(vertices, x.res)
	if err != nil {
		// Index stays best-effort: an unindexed area just falls out of
		// hit-test candidates.
		logger.Warn("hit index polyfill", "id", id, "err", err)
		return
	}
	for _, c := range cells {
		x.byCell[c] = append(x.byCell[c], id)
	}
	x.cellsOf[id] = cells
}

func (x *hitIndex) remove(id string) {
	for _, c := range x.cellsOf[id] {
		ids := x.byCell[c]
		for i, v := range ids {
			if v == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(x.byCell, c)
		} else {
			x.byCell[c] = ids
		}
	}
	delete(x.cellsOf, id)
}

func (x *hitIndex) candidates(lat, lon float64, logger *slog.Logger) []string {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, x.res)
	if err != nil {
		logger.Warn("hit index lookup", "err", err)
		return nil
	}
	return x.byCell[cell]
}

// coverCells polyfills the boundary and widens the result by one grid
// ring, always including the ring around each vertex so small areas
// index even when no cell center falls inside.
func coverCells(vertices []geometry.Vertex, res int) ([]h3.Cell, error) {
	loop := make(h3.GeoLoop, 0, len(vertices))
	for _, v := range vertices {
		loop = append(loop, h3.LatLng{Lat: v.Lat, Lng: v.Lon})
	}

	seen := make(map[h3.Cell]struct{})

	if len(loop) >= 3 {
		inner, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
		if err != nil {
			return nil, err
		}
		for _, c := range inner {
			ring, err := h3.GridDisk(c, 1)
			if err != nil {
				return nil, err
			}
			for _, rc := range ring {
				seen[rc] = struct{}{}
			}
		}
	}

	for _, v := range loop {
		c, err := h3.LatLngToCell(v, res)
		if err != nil {
			return nil, err
		}
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, err
		}
		for _, rc := range ring {
			seen[rc] = struct{}{}
		}
	}

	out := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out, nil
}
