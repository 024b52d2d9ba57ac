package aoi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aoi-tools/aoi-workbench/internal/geometry"
	"github.com/aoi-tools/aoi-workbench/internal/mgrs"
)

type memSink struct {
	mu    sync.Mutex
	saves [][]AOI
	fail  bool
}

func (s *memSink) SaveAOIs(_ context.Context, aois []AOI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	cp := make([]AOI, len(aois))
	copy(cp, aois)
	s.saves = append(s.saves, cp)
	return nil
}

func (s *memSink) last(t *testing.T) []AOI {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		t.Fatalf("no persistence writes recorded")
	}
	return s.saves[len(s.saves)-1]
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type fakeHandle struct{ released bool }

func (h *fakeHandle) Release() { h.released = true }

func newTestRepo(sink Persister) *Repository {
	return NewRepository(nil, geometry.NewEngine(64), sink, DefaultHitTestResolution)
}

func rectVertices() []geometry.Vertex {
	return []geometry.Vertex{
		{Lat: 45, Lon: -100},
		{Lat: 45, Lon: -99},
		{Lat: 46, Lon: -99},
		{Lat: 46, Lon: -100},
	}
}

func TestCreate_DerivesAndPersists(t *testing.T) {
	sink := &memSink{}
	r := newTestRepo(sink)

	rec, err := r.Create(context.Background(), rectVertices(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantMGRS, err := mgrs.ToMGRS(45.5, -99.5)
	if err != nil {
		t.Fatalf("ToMGRS: %v", err)
	}
	if rec.MGRSCoordinate != wantMGRS {
		t.Fatalf("mgrs=%q want %q", rec.MGRSCoordinate, wantMGRS)
	}
	if !strings.HasSuffix(rec.Dimensions, " sq m") {
		t.Fatalf("dimensions=%q missing unit", rec.Dimensions)
	}
	if rec.Name != "AOI 1" {
		t.Fatalf("name=%q want AOI 1", rec.Name)
	}
	if _, err := time.Parse(time.RFC3339, rec.DateCreated); err != nil {
		t.Fatalf("dateCreated %q not RFC3339: %v", rec.DateCreated, err)
	}
	// Bounds stored (lon, lat).
	if rec.Bounds[0] != [2]float64{-100, 45} {
		t.Fatalf("bounds[0]=%v want (lon,lat) order", rec.Bounds[0])
	}
	if got := sink.last(t); len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("persisted collection %+v does not match created record", got)
	}
}

func TestCreate_SequentialNamesAndUniqueIDs(t *testing.T) {
	r := newTestRepo(&memSink{})
	ctx := context.Background()

	ids := map[string]bool{}
	for i := 0; i < 10; i++ {
		rec, err := r.Create(ctx, rectVertices(), "")
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if ids[rec.ID] {
			t.Fatalf("duplicate id %q", rec.ID)
		}
		ids[rec.ID] = true
	}
	// Deleting and creating again never reuses ids or names.
	list := r.List()
	if err := r.Delete(ctx, list[3].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rec, err := r.Create(ctx, rectVertices(), "")
	if err != nil {
		t.Fatalf("Create after delete: %v", err)
	}
	if ids[rec.ID] {
		t.Fatalf("id %q reused", rec.ID)
	}
	if rec.Name != "AOI 11" {
		t.Fatalf("name=%q want AOI 11", rec.Name)
	}
}

func TestCreate_NameOverride(t *testing.T) {
	r := newTestRepo(&memSink{})
	rec, err := r.Create(context.Background(), rectVertices(), "  Patrol Sector  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Name != "Patrol Sector" {
		t.Fatalf("name=%q want trimmed override", rec.Name)
	}
}

func TestCreate_RejectsDegenerateWithoutStateChange(t *testing.T) {
	sink := &memSink{}
	r := newTestRepo(sink)

	if _, err := r.Create(context.Background(), rectVertices()[:2], ""); err == nil {
		t.Fatalf("want error for 2-vertex boundary")
	}
	if r.Len() != 0 || sink.count() != 0 {
		t.Fatalf("failed create mutated state: len=%d saves=%d", r.Len(), sink.count())
	}
}

func TestCreate_SurvivesSinkFailure(t *testing.T) {
	r := newTestRepo(&memSink{fail: true})
	rec, err := r.Create(context.Background(), rectVertices(), "")
	if err != nil {
		t.Fatalf("Create should swallow save failure, got %v", err)
	}
	if _, ok := r.Find(rec.ID); !ok {
		t.Fatalf("record missing after save failure")
	}
}

func TestCreateFromMGRS_SquareBoundary(t *testing.T) {
	r := newTestRepo(&memSink{})
	const ref = "15TVK1234567890"

	rec, err := r.CreateFromMGRS(context.Background(), ref, "")
	if err != nil {
		t.Fatalf("CreateFromMGRS: %v", err)
	}
	if len(rec.Bounds) != 4 {
		t.Fatalf("bounds has %d vertices, want 4", len(rec.Bounds))
	}

	lat, lon, err := mgrs.FromMGRS(ref)
	if err != nil {
		t.Fatalf("FromMGRS: %v", err)
	}
	var sumLon, sumLat float64
	for _, p := range rec.Bounds {
		sumLon += p[0]
		sumLat += p[1]
	}
	if cLat, cLon := sumLat/4, sumLon/4; !almostEq(cLat, lat) || !almostEq(cLon, lon) {
		t.Fatalf("square center (%v,%v) want (%v,%v)", cLat, cLon, lat, lon)
	}
}

func TestCreateFromMGRS_BadReference(t *testing.T) {
	r := newTestRepo(&memSink{})
	if _, err := r.CreateFromMGRS(context.Background(), "not an mgrs", ""); !errors.Is(err, mgrs.ErrInvalidFormat) {
		t.Fatalf("err=%v want ErrInvalidFormat", err)
	}
}

func almostEq(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestRename(t *testing.T) {
	sink := &memSink{}
	r := newTestRepo(sink)
	rec, _ := r.Create(context.Background(), rectVertices(), "")
	saves := sink.count()

	// Empty after trim keeps the old name, silently, without a write.
	if err := r.Rename(context.Background(), rec.ID, "   "); err != nil {
		t.Fatalf("Rename empty: %v", err)
	}
	got, _ := r.Find(rec.ID)
	if got.Name != rec.Name {
		t.Fatalf("name=%q want unchanged %q", got.Name, rec.Name)
	}
	if sink.count() != saves {
		t.Fatalf("empty rename persisted")
	}

	if err := r.Rename(context.Background(), rec.ID, "Objective Bravo"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _ = r.Find(rec.ID)
	if got.Name != "Objective Bravo" {
		t.Fatalf("name=%q", got.Name)
	}
	if sink.count() != saves+1 {
		t.Fatalf("rename did not persist")
	}

	if err := r.Rename(context.Background(), "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestUpdateBoundary_KeepsDerivedFields(t *testing.T) {
	r := newTestRepo(&memSink{})
	rec, _ := r.Create(context.Background(), rectVertices(), "")

	moved := []geometry.Vertex{
		{Lat: 10, Lon: 10},
		{Lat: 10, Lon: 11},
		{Lat: 11, Lon: 11},
	}
	if err := r.UpdateBoundary(context.Background(), rec.ID, moved); err != nil {
		t.Fatalf("UpdateBoundary: %v", err)
	}
	got, _ := r.Find(rec.ID)
	if len(got.Bounds) != 3 {
		t.Fatalf("bounds not replaced: %+v", got.Bounds)
	}
	// The grid reference and dimensions go stale on purpose.
	if got.MGRSCoordinate != rec.MGRSCoordinate || got.Dimensions != rec.Dimensions {
		t.Fatalf("derived fields recomputed on boundary edit")
	}

	if err := r.UpdateBoundary(context.Background(), rec.ID, moved[:2]); !errors.Is(err, geometry.ErrDegeneratePolygon) {
		t.Fatalf("err=%v want ErrDegeneratePolygon", err)
	}
}

func TestDelete_ReleasesLayer(t *testing.T) {
	r := newTestRepo(&memSink{})
	rec, _ := r.Create(context.Background(), rectVertices(), "")

	h := &fakeHandle{}
	if err := r.AttachLayer(rec.ID, h); err != nil {
		t.Fatalf("AttachLayer: %v", err)
	}
	if err := r.Delete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !h.released {
		t.Fatalf("render handle not released on delete")
	}
	if _, ok := r.Find(rec.ID); ok {
		t.Fatalf("record still present after delete")
	}
	if err := r.Delete(context.Background(), rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestDeleteAll(t *testing.T) {
	sink := &memSink{}
	r := newTestRepo(sink)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Create(ctx, rectVertices(), ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	h := &fakeHandle{}
	_ = r.AttachLayer(r.List()[0].ID, h)

	r.DeleteAll(ctx)
	if r.Len() != 0 {
		t.Fatalf("len=%d after DeleteAll", r.Len())
	}
	if !h.released {
		t.Fatalf("layer survived DeleteAll")
	}
	if got := sink.last(t); len(got) != 0 {
		t.Fatalf("persisted %d records after DeleteAll, want 0", len(got))
	}
}

func TestHydrate_RestoresOrderAndSequence(t *testing.T) {
	r := newTestRepo(&memSink{})
	recs := []AOI{
		{ID: "a", Name: "AOI 1", Bounds: [][2]float64{{-100, 45}, {-99, 45}, {-99, 46}}},
		{ID: "b", Name: "AOI 2", Bounds: [][2]float64{{10, 10}, {11, 10}, {11, 11}}},
	}
	r.Hydrate(recs)

	list := r.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("hydrated order wrong: %+v", list)
	}
	created, err := r.Create(context.Background(), rectVertices(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Name != "AOI 3" {
		t.Fatalf("name=%q want AOI 3 after hydrating 2 records", created.Name)
	}
}

func TestAppend_RemintsDuplicateIDs(t *testing.T) {
	r := newTestRepo(&memSink{})
	r.Hydrate([]AOI{{ID: "dup", Name: "first", Bounds: [][2]float64{{0, 0}, {1, 0}, {1, 1}}}})

	added := r.Append(context.Background(), []AOI{
		{ID: "dup", Name: "second", Bounds: [][2]float64{{2, 2}, {3, 2}, {3, 3}}},
	})
	if len(added) != 1 {
		t.Fatalf("appended %d records", len(added))
	}
	if added[0].ID == "dup" || added[0].ID == "" {
		t.Fatalf("duplicate id not re-minted: %q", added[0].ID)
	}
	if r.Len() != 2 {
		t.Fatalf("len=%d want 2", r.Len())
	}
}

func TestFindAt(t *testing.T) {
	r := newTestRepo(&memSink{})
	rec, err := r.Create(context.Background(), rectVertices(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	hit, ok := r.FindAt(45.5, -99.5)
	if !ok || hit.ID != rec.ID {
		t.Fatalf("FindAt center missed (ok=%v id=%q)", ok, hit.ID)
	}
	if _, ok := r.FindAt(10, 10); ok {
		t.Fatalf("FindAt far away should miss")
	}

	// A manual-entry sized square (0.02 degrees across) still indexes.
	small, err := r.CreateFromMGRS(context.Background(), "15TVK1234567890", "")
	if err != nil {
		t.Fatalf("CreateFromMGRS: %v", err)
	}
	var sumLon, sumLat float64
	for _, p := range small.Bounds {
		sumLon += p[0]
		sumLat += p[1]
	}
	hit, ok = r.FindAt(sumLat/4, sumLon/4)
	if !ok || hit.ID != small.ID {
		t.Fatalf("FindAt small square center missed (ok=%v)", ok)
	}

	// Deleted areas drop out of the index.
	if err := r.Delete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := r.FindAt(45.5, -99.5); ok {
		t.Fatalf("FindAt matched a deleted area")
	}
}
