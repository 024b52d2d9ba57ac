package geojson

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aoi-tools/aoi-workbench/internal/aoi"
)

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func sampleRecord() aoi.AOI {
	return aoi.AOI{
		ID:             "a1",
		Name:           "Zone A",
		MGRSCoordinate: "14TNL8376539814",
		Dimensions:     "8691424725 sq m",
		Bounds:         [][2]float64{{-99, 45}, {-99, 46}, {-98, 46}, {-98, 45}},
		DateCreated:    "2024-05-01T00:00:00Z",
	}
}

func TestToFeature_ClosesRing(t *testing.T) {
	rec := sampleRecord()
	f := ToFeature(rec)
	if f.Type != "Feature" || f.Geometry.Type != "Polygon" {
		t.Fatalf("feature envelope: %+v", f)
	}

	var rings [][][2]float64
	if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
		t.Fatalf("coordinates: %v", err)
	}
	if len(rings) != 1 {
		t.Fatalf("rings=%d", len(rings))
	}
	ring := rings[0]
	if len(ring) != len(rec.Bounds)+1 {
		t.Fatalf("ring has %d vertices, want %d", len(ring), len(rec.Bounds)+1)
	}
	if ring[0] != ring[len(ring)-1] {
		t.Fatalf("ring not closed: %v vs %v", ring[0], ring[len(ring)-1])
	}
	// (lon, lat) order
	if ring[0] != [2]float64{-99, 45} {
		t.Fatalf("first vertex %v", ring[0])
	}
	if f.Properties["name"] != "Zone A" || f.Properties["mgrsCoordinate"] != rec.MGRSCoordinate {
		t.Fatalf("properties: %+v", f.Properties)
	}
}

func TestFromFeature_RoundTrip(t *testing.T) {
	rec := sampleRecord()
	got, err := FromFeature(ToFeature(rec), fixedNow())
	if err != nil {
		t.Fatalf("FromFeature: %v", err)
	}
	if got.ID != rec.ID || got.Name != rec.Name || got.MGRSCoordinate != rec.MGRSCoordinate {
		t.Fatalf("identity fields: %+v", got)
	}
	if len(got.Bounds) != len(rec.Bounds) {
		t.Fatalf("closing vertex not dropped: %v", got.Bounds)
	}
	for i := range rec.Bounds {
		if got.Bounds[i] != rec.Bounds[i] {
			t.Fatalf("vertex %d: got %v want %v", i, got.Bounds[i], rec.Bounds[i])
		}
	}
}

func TestFromFeature_Defaults(t *testing.T) {
	f := Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Polygon",
			Coordinates: json.RawMessage(`[[[-99,45],[-99,46],[-98,46],[-98,45],[-99,45]]]`),
		},
	}
	rec, err := FromFeature(f, fixedNow())
	if err != nil {
		t.Fatalf("FromFeature: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("no id minted")
	}
	if rec.Name != ImportedName {
		t.Fatalf("name=%q", rec.Name)
	}
	if rec.MGRSCoordinate != "" || rec.Dimensions != "" {
		t.Fatalf("grid fields should stay empty: %+v", rec)
	}
	if rec.DateCreated != "2024-06-01T12:00:00Z" {
		t.Fatalf("dateCreated=%q", rec.DateCreated)
	}
	if len(rec.Bounds) != 4 {
		t.Fatalf("bounds=%v", rec.Bounds)
	}
}

func TestFromFeature_RejectsPoint(t *testing.T) {
	f := Feature{
		Type:     "Feature",
		Geometry: Geometry{Type: "Point", Coordinates: json.RawMessage(`[-99,45]`)},
	}
	if _, err := FromFeature(f, fixedNow()); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("err=%v", err)
	}
}

func TestFromFeature_RejectsDegenerateRing(t *testing.T) {
	f := Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Polygon",
			Coordinates: json.RawMessage(`[[[-99,45],[-98,46],[-99,45]]]`),
		},
	}
	if _, err := FromFeature(f, fixedNow()); err == nil {
		t.Fatalf("want error for two-vertex ring")
	}
}

func TestImport_SkipsNonPolygons(t *testing.T) {
	doc := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"geometry": {"type": "Polygon", "coordinates": [[[-99,45],[-99,46],[-98,46],[-98,45],[-99,45]]]},
				"properties": {"name": "Training Area"}
			},
			{
				"type": "Feature",
				"geometry": {"type": "Point", "coordinates": [-99.5, 45.5]},
				"properties": {"name": "Waypoint"}
			}
		]
	}`
	recs, err := Import([]byte(doc), fixedNow())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("imported %d records, want 1", len(recs))
	}
	if recs[0].Name != "Training Area" {
		t.Fatalf("name=%q", recs[0].Name)
	}
}

func TestImport_SingleFeatureDocument(t *testing.T) {
	doc := `{
		"type": "Feature",
		"geometry": {"type": "Polygon", "coordinates": [[[10,10],[11,10],[11,11],[10,10]]]},
		"properties": {}
	}`
	recs, err := Import([]byte(doc), fixedNow())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != ImportedName {
		t.Fatalf("recs=%+v", recs)
	}
}

func TestImport_NothingImportable(t *testing.T) {
	doc := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {}}
		]
	}`
	if _, err := Import([]byte(doc), fixedNow()); !errors.Is(err, ErrNoImportableFeatures) {
		t.Fatalf("err=%v", err)
	}
}

func TestImport_RejectsGarbage(t *testing.T) {
	if _, err := Import([]byte(`{"type": "GeometryCollection"}`), fixedNow()); err == nil {
		t.Fatalf("want error for unsupported document type")
	}
	if _, err := Import([]byte(`not json`), fixedNow()); err == nil {
		t.Fatalf("want error for malformed document")
	}
}

func TestExport_Envelope(t *testing.T) {
	data, filename, err := Export([]aoi.AOI{sampleRecord()}, "Test Zone #1", fixedNow())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if filename != "test_zone__1_aois_2024-06-01.geojson" {
		t.Fatalf("filename=%q", filename)
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Fatalf("export not pretty-printed")
	}

	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("envelope: %+v", fc)
	}
	if fc.Properties["projectName"] != "Test Zone #1" {
		t.Fatalf("projectName=%v", fc.Properties["projectName"])
	}
	if fc.Properties["exportDate"] != "2024-06-01T12:00:00Z" {
		t.Fatalf("exportDate=%v", fc.Properties["exportDate"])
	}
}

func TestExport_EmptyCollection(t *testing.T) {
	data, _, err := Export(nil, "p", fixedNow())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Fatalf("features=%d", len(fc.Features))
	}
}

func TestExportFilename_Sanitizes(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Test Zone #1", "test_zone__1_aois_2024-06-01.geojson"},
		{"Untitled Project", "untitled_project_aois_2024-06-01.geojson"},
		{"ALLCAPS", "allcaps_aois_2024-06-01.geojson"},
		{"", "_aois_2024-06-01.geojson"},
	}
	for _, c := range cases {
		if got := ExportFilename(c.name, fixedNow()); got != c.want {
			t.Fatalf("ExportFilename(%q)=%q, want %q", c.name, got, c.want)
		}
	}
}
