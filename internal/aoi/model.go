// Package aoi holds the Area of Interest collection: the record model,
// the ordered repository with write-through persistence, and the
// selection/edit session state machine.
package aoi

import (
	"errors"

	"github.com/aoi-tools/aoi-workbench/internal/geometry"
)

var (
	ErrNotFound     = errors.New("aoi: no such area")
	ErrEditingOther = errors.New("aoi: another area is being edited")
	ErrEditing      = errors.New("aoi: operation unavailable while editing")
)

// AOI is a named, geolocated polygon. Bounds hold (lon, lat) vertex
// pairs forming an open ring; the closing edge back to the first
// vertex is implicit.
type AOI struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	MGRSCoordinate string       `json:"mgrsCoordinate"`
	Dimensions     string       `json:"dimensions"`
	Bounds         [][2]float64 `json:"bounds"`
	DateCreated    string       `json:"dateCreated"`
}

// Vertices returns the boundary in (lat, lon) order for the geometry
// and codec layers, which consume latitude first.
func (a AOI) Vertices() []geometry.Vertex {
	out := make([]geometry.Vertex, len(a.Bounds))
	for i, p := range a.Bounds {
		out[i] = geometry.Vertex{Lat: p[1], Lon: p[0]}
	}
	return out
}

// BoundsFromVertices converts (lat, lon) vertices to the stored
// (lon, lat) bounds order.
func BoundsFromVertices(vertices []geometry.Vertex) [][2]float64 {
	out := make([][2]float64, len(vertices))
	for i, v := range vertices {
		out[i] = [2]float64{v.Lon, v.Lat}
	}
	return out
}

// RenderHandle is the transient on-map rendering object for an AOI.
// Handles live in a side mapping owned by the repository, are never
// serialized, and must be released before the record is discarded.
type RenderHandle interface {
	Release()
}
