// Package geojson maps AOI records to and from GeoJSON Features for
// file import and export.
package geojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aoi-tools/aoi-workbench/internal/aoi"
	"github.com/aoi-tools/aoi-workbench/internal/observability"
)

var (
	ErrUnsupportedGeometry  = errors.New("geojson: geometry is not a Polygon")
	ErrNoImportableFeatures = errors.New("geojson: no importable features")
)

// ImportedName labels features that arrive without a name property.
const ImportedName = "Imported AOI"

type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type FeatureCollection struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Features   []Feature      `json:"features"`
}

// ToFeature emits a Polygon Feature whose single ring is the record's
// bounds, closed per GeoJSON convention, vertices in (lon, lat) order.
func ToFeature(rec aoi.AOI) Feature {
	ring := make([][2]float64, 0, len(rec.Bounds)+1)
	ring = append(ring, rec.Bounds...)
	if len(rec.Bounds) > 0 {
		ring = append(ring, rec.Bounds[0])
	}
	coords, _ := json.Marshal([][][2]float64{ring})

	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Polygon",
			Coordinates: coords,
		},
		Properties: map[string]any{
			"id":             rec.ID,
			"name":           rec.Name,
			"mgrsCoordinate": rec.MGRSCoordinate,
			"dimensions":     rec.Dimensions,
			"dateCreated":    rec.DateCreated,
		},
	}
}

// FromFeature builds an AOI record from a Polygon Feature. Missing
// properties take defaults: a fresh id, the ImportedName label, empty
// grid reference and dimensions, and now as the creation time.
func FromFeature(f Feature, now time.Time) (aoi.AOI, error) {
	if f.Geometry.Type != "Polygon" {
		return aoi.AOI{}, fmt.Errorf("%w (got %q)", ErrUnsupportedGeometry, f.Geometry.Type)
	}

	var rings [][][2]float64
	if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
		return aoi.AOI{}, fmt.Errorf("geojson: parse polygon coordinates: %w", err)
	}
	if len(rings) == 0 {
		return aoi.AOI{}, errors.New("geojson: polygon has no rings")
	}
	ring := rings[0]
	// Drop the explicit closing vertex; bounds store an open ring.
	if len(ring) >= 2 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return aoi.AOI{}, errors.New("geojson: polygon ring has fewer than 3 distinct vertices")
	}

	rec := aoi.AOI{
		ID:             propString(f.Properties, "id"),
		Name:           propString(f.Properties, "name"),
		MGRSCoordinate: propString(f.Properties, "mgrsCoordinate"),
		Dimensions:     propString(f.Properties, "dimensions"),
		DateCreated:    propString(f.Properties, "dateCreated"),
		Bounds:         ring,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Name == "" {
		rec.Name = ImportedName
	}
	if rec.DateCreated == "" {
		rec.DateCreated = now.UTC().Format(time.RFC3339)
	}
	return rec, nil
}

// Import parses a FeatureCollection (or a single Feature) and returns
// the records of every Polygon feature. Features with other geometry
// types are skipped; when nothing importable remains the whole import
// fails.
func Import(data []byte, now time.Time) ([]aoi.AOI, error) {
	recs, err := importAll(data, now)
	observability.IncInterchange("import", err)
	return recs, err
}

func importAll(data []byte, now time.Time) ([]aoi.AOI, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("geojson: parse document: %w", err)
	}

	var features []Feature
	switch head.Type {
	case "FeatureCollection":
		var fc FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("geojson: parse FeatureCollection: %w", err)
		}
		features = fc.Features
	case "Feature":
		var f Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("geojson: parse Feature: %w", err)
		}
		features = []Feature{f}
	default:
		return nil, fmt.Errorf("geojson: unsupported document type %q", head.Type)
	}

	out := make([]aoi.AOI, 0, len(features))
	for _, f := range features {
		if f.Geometry.Type != "Polygon" {
			continue
		}
		rec, err := FromFeature(f, now)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrNoImportableFeatures
	}
	return out, nil
}

// Export wraps the collection in a pretty-printed FeatureCollection
// whose top-level properties carry the project name and export date,
// and returns the download filename alongside the bytes.
func Export(aois []aoi.AOI, projectName string, now time.Time) (data []byte, filename string, err error) {
	defer func() { observability.IncInterchange("export", err) }()

	fc := FeatureCollection{
		Type: "FeatureCollection",
		Properties: map[string]any{
			"projectName": projectName,
			"exportDate":  now.UTC().Format(time.RFC3339),
		},
		Features: make([]Feature, 0, len(aois)),
	}
	for _, rec := range aois {
		fc.Features = append(fc.Features, ToFeature(rec))
	}

	data, err = json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("geojson: encode FeatureCollection: %w", err)
	}
	return data, ExportFilename(projectName, now), nil
}

// ExportFilename builds "{sanitized-project-name}_aois_{ISO-date}.geojson".
// Every character outside [a-z0-9] (case-insensitive) becomes '_',
// then the whole name is lower-cased.
func ExportFilename(projectName string, now time.Time) string {
	var b strings.Builder
	b.Grow(len(projectName))
	for _, r := range projectName {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return fmt.Sprintf("%s_aois_%s.geojson", b.String(), now.UTC().Format("2006-01-02"))
}

func propString(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
