package aoi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aoi-tools/aoi-workbench/internal/geometry"
	"github.com/aoi-tools/aoi-workbench/internal/mgrs"
	"github.com/aoi-tools/aoi-workbench/internal/observability"
)

// Persister is the write-through sink for the collection. Save
// failures are logged and swallowed: durability is best-effort and the
// in-memory collection stays authoritative.
type Persister interface {
	SaveAOIs(ctx context.Context, aois []AOI) error
}

// Repository is the ordered in-memory AOI collection. Insertion order
// is display order. Every mutation persists the whole collection.
type Repository struct {
	mu     sync.Mutex
	logger *slog.Logger
	engine *geometry.Engine
	sink   Persister

	aois   []*AOI
	byID   map[string]*AOI
	layers map[string]RenderHandle
	seq    int

	index *hitIndex

	now func() time.Time
}

func NewRepository(logger *slog.Logger, engine *geometry.Engine, sink Persister, hitTestRes int) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		logger: logger,
		engine: engine,
		sink:   sink,
		byID:   make(map[string]*AOI),
		layers: make(map[string]RenderHandle),
		index:  newHitIndex(hitTestRes),
		now:    time.Now,
	}
}

// Create derives the grid reference and dimensions for the boundary,
// assigns a fresh id and default name, appends the record, and
// persists. Vertices are (lat, lon).
func (r *Repository) Create(ctx context.Context, vertices []geometry.Vertex, nameOverride string) (AOI, error) {
	derived, err := r.engine.Derive(vertices)
	if err != nil {
		return AOI{}, fmt.Errorf("derive boundary values: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	name := strings.TrimSpace(nameOverride)
	if name == "" {
		name = fmt.Sprintf("AOI %d", r.seq)
	}

	rec := &AOI{
		ID:             uuid.NewString(),
		Name:           name,
		MGRSCoordinate: derived.MGRS,
		Dimensions:     derived.Dimensions,
		Bounds:         BoundsFromVertices(vertices),
		DateCreated:    r.now().UTC().Format(time.RFC3339),
	}
	r.insertLocked(rec)
	observability.IncMutation("create")
	r.saveLocked(ctx)
	return *rec, nil
}

// CreateFromMGRS synthesizes the fixed-width square used by the manual
// grid-reference entry path and creates an AOI from it.
func (r *Repository) CreateFromMGRS(ctx context.Context, ref, nameOverride string) (AOI, error) {
	lat, lon, err := mgrs.FromMGRS(ref)
	if err != nil {
		return AOI{}, err
	}
	square := geometry.SquareFromCenter(lat, lon, geometry.DefaultSquareHalfWidthDeg)
	return r.Create(ctx, square, nameOverride)
}

// Append inserts already-built records (the import path). Records keep
// their ids; a single persistence write covers the batch.
func (r *Repository) Append(ctx context.Context, recs []AOI) []AOI {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AOI, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		if _, dup := r.byID[rec.ID]; dup {
			rec.ID = uuid.NewString()
		}
		cp := rec
		r.insertLocked(&cp)
		r.seq++
		out = append(out, cp)
	}
	observability.IncMutation("import")
	r.saveLocked(ctx)
	return out
}

// Hydrate replaces the collection with records loaded from storage.
// No persistence write is triggered.
func (r *Repository) Hydrate(recs []AOI) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, h := range r.layers {
		h.Release()
		delete(r.layers, id)
	}
	r.aois = r.aois[:0]
	r.byID = make(map[string]*AOI, len(recs))
	r.index.reset()
	for i := range recs {
		cp := recs[i]
		r.insertLocked(&cp)
	}
	r.seq = len(recs)
}

// Rename trims the new name and keeps the previous one when the result
// is empty, silently.
func (r *Repository) Rename(ctx context.Context, id, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil
	}
	rec.Name = name
	observability.IncMutation("rename")
	r.saveLocked(ctx)
	return nil
}

// UpdateBoundary replaces the boundary after an edit gesture. The
// stored grid reference and dimensions are not recomputed, matching
// the observed behavior of the original tool.
func (r *Repository) UpdateBoundary(ctx context.Context, id string, vertices []geometry.Vertex) error {
	if len(vertices) < 3 {
		return geometry.ErrDegeneratePolygon
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Bounds = BoundsFromVertices(vertices)
	r.index.remove(id)
	r.index.add(id, vertices, r.logger)
	observability.IncMutation("update_boundary")
	r.saveLocked(ctx)
	return nil
}

// Delete releases the record's render handle, removes it, and
// persists.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	if h, ok := r.layers[id]; ok {
		h.Release()
		delete(r.layers, id)
	}
	delete(r.byID, id)
	r.index.remove(id)
	for i, rec := range r.aois {
		if rec.ID == id {
			r.aois = append(r.aois[:i], r.aois[i+1:]...)
			break
		}
	}
	observability.IncMutation("delete")
	r.saveLocked(ctx)
	return nil
}

// DeleteAll empties the collection and persists the empty state.
func (r *Repository) DeleteAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, h := range r.layers {
		h.Release()
		delete(r.layers, id)
	}
	r.aois = r.aois[:0]
	r.byID = make(map[string]*AOI)
	r.index.reset()
	observability.IncMutation("delete_all")
	r.saveLocked(ctx)
}

func (r *Repository) Find(id string) (AOI, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return AOI{}, false
	}
	return *rec, true
}

// List returns the collection in display order.
func (r *Repository) List() []AOI {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AOI, len(r.aois))
	for i, rec := range r.aois {
		out[i] = *rec
	}
	return out
}

func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aois)
}

// FindAt hit-tests a map click: candidate areas come from the H3 cell
// index, the exact answer from a ray cast against each candidate's
// boundary. The first match in display order wins.
func (r *Repository) FindAt(lat, lon float64) (AOI, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.index.candidates(lat, lon, r.logger) {
		rec, ok := r.byID[id]
		if !ok {
			continue
		}
		if pointInRing(lat, lon, rec.Bounds) {
			return *rec, true
		}
	}
	return AOI{}, false
}

// AttachLayer records the render handle for an AOI, releasing any
// handle it replaces.
func (r *Repository) AttachLayer(id string, h RenderHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	if old, ok := r.layers[id]; ok && old != h {
		old.Release()
	}
	r.layers[id] = h
	return nil
}

func (r *Repository) insertLocked(rec *AOI) {
	r.aois = append(r.aois, rec)
	r.byID[rec.ID] = rec
	r.index.add(rec.ID, rec.Vertices(), r.logger)
}

// saveLocked writes the whole collection through the persister.
// Failures are logged only; the mutation has already succeeded.
func (r *Repository) saveLocked(ctx context.Context) {
	if r.sink == nil {
		return
	}
	snapshot := make([]AOI, len(r.aois))
	for i, rec := range r.aois {
		snapshot[i] = *rec
	}
	if err := r.sink.SaveAOIs(ctx, snapshot); err != nil {
		r.logger.Warn("persist aoi collection", "err", err, "count", len(snapshot))
	}
}

// pointInRing ray-casts against an open (lon, lat) ring.
func pointInRing(lat, lon float64, ring [][2]float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
