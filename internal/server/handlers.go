package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aoi-tools/aoi-workbench/internal/aoi"
	"github.com/aoi-tools/aoi-workbench/internal/geojson"
	"github.com/aoi-tools/aoi-workbench/internal/geometry"
	"github.com/aoi-tools/aoi-workbench/internal/mgrs"
	"github.com/aoi-tools/aoi-workbench/internal/observability"
	"github.com/aoi-tools/aoi-workbench/internal/store"
)

const maxImportBytes = 16 << 20

// API exposes the workbench over HTTP: the repository and session
// carry the domain state, the adapter the project-name persistence.
type API struct {
	logger  *slog.Logger
	repo    *aoi.Repository
	session *aoi.Session
	adapter *store.Adapter

	mu          sync.Mutex
	projectName string

	now func() time.Time
}

func NewAPI(logger *slog.Logger, repo *aoi.Repository, session *aoi.Session, adapter *store.Adapter, projectName string) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(projectName) == "" {
		projectName = "Untitled Project"
	}
	return &API{
		logger:      logger,
		repo:        repo,
		session:     session,
		adapter:     adapter,
		projectName: projectName,
		now:         time.Now,
	}
}

// observed wraps a handler with the per-route request metrics.
func (a *API) observed(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type vertexPair [2]float64 // (lat, lon), matching the draw widget

func toVertices(pairs []vertexPair) []geometry.Vertex {
	out := make([]geometry.Vertex, len(pairs))
	for i, p := range pairs {
		out[i] = geometry.Vertex{Lat: p[0], Lon: p[1]}
	}
	return out
}

func (a *API) listAOIs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"aois": a.repo.List()})
}

func (a *API) createAOI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vertices []vertexPair `json:"vertices"`
		Name     string       `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := a.session.Apply(r.Context(), aoi.Created{Vertices: toVertices(req.Vertices), Name: req.Name})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) createFromMGRS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MGRS string `json:"mgrs"`
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := a.session.CreateFromMGRS(r.Context(), req.MGRS, req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.repo.Rename(r.Context(), id, req.Name); err != nil {
		a.writeError(w, r, err)
		return
	}
	rec, _ := a.repo.Find(id)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) updateBoundary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vertices []vertexPair `json:"vertices"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	// A boundary under live edit only changes through the edit
	// completion event.
	if state, selected := a.session.Snapshot(); state == aoi.Editing && selected == id {
		a.writeError(w, r, aoi.ErrEditing)
		return
	}
	if err := a.repo.UpdateBoundary(r.Context(), id, toVertices(req.Vertices)); err != nil {
		a.writeError(w, r, err)
		return
	}
	rec, _ := a.repo.Find(id)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) deleteAOI(w http.ResponseWriter, r *http.Request) {
	if err := a.session.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteAll(w http.ResponseWriter, r *http.Request) {
	if err := a.session.DeleteAll(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) selectAOI(w http.ResponseWriter, r *http.Request) {
	if err := a.session.ClickAOI(chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.selection(w, r)
}

func (a *API) clearSelection(w http.ResponseWriter, r *http.Request) {
	if err := a.session.ClickEmpty(); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.selection(w, r)
}

func (a *API) selection(w http.ResponseWriter, _ *http.Request) {
	state, id := a.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       state.String(),
		"selectedId":  id,
		"manualEntry": a.session.ManualEntryEnabled(),
	})
}

func (a *API) beginEdit(w http.ResponseWriter, r *http.Request) {
	if err := a.session.BeginEdit(chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.selection(w, r)
}

func (a *API) completeEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vertices []vertexPair `json:"vertices"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := a.session.Apply(r.Context(), aoi.Edited{
		ID:       chi.URLParam(r, "id"),
		Vertices: toVertices(req.Vertices),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) cancelEdit(w http.ResponseWriter, r *http.Request) {
	rec, err := a.session.Apply(r.Context(), aoi.EditCancelled{ID: chi.URLParam(r, "id")})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) hitTest(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "lat and lon query parameters are required"})
		return
	}
	rec, ok := a.repo.FindAt(lat, lon)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no area at location"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) importGeoJSON(w http.ResponseWriter, r *http.Request) {
	warning := ""
	if name := r.URL.Query().Get("filename"); name != "" {
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".geojson") && !strings.HasSuffix(lower, ".json") {
			warning = fmt.Sprintf("file %q does not look like GeoJSON; attempting import anyway", name)
			a.logger.Warn("import filename mismatch", "filename", name)
		}
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "read import body: " + err.Error()})
		return
	}
	recs, err := geojson.Import(data, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	added := a.repo.Append(r.Context(), recs)

	resp := map[string]any{"imported": len(added), "aois": added}
	if warning != "" {
		resp["warning"] = warning
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) exportGeoJSON(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	name := a.projectName
	a.mu.Unlock()

	data, filename, err := geojson.Export(a.repo.List(), name, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) getProjectName(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	name := a.projectName
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"name": name})
}

// putProjectName renames the project; like AOI rename, a name that
// trims to empty keeps the previous one.
func (a *API) putProjectName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)

	a.mu.Lock()
	if name != "" {
		a.projectName = name
	}
	current := a.projectName
	a.mu.Unlock()

	if name != "" {
		if err := a.adapter.SaveProjectName(r.Context(), current); err != nil {
			a.logger.Warn("persist project name", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": current})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "parse request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Validation
// failures abort the operation with no partial state change; storage
// problems never surface here because the repository swallows them.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, aoi.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, aoi.ErrEditing), errors.Is(err, aoi.ErrEditingOther):
		status = http.StatusConflict
	case errors.Is(err, mgrs.ErrInvalidCoordinate),
		errors.Is(err, mgrs.ErrInvalidFormat),
		errors.Is(err, geometry.ErrDegeneratePolygon),
		errors.Is(err, geojson.ErrUnsupportedGeometry),
		errors.Is(err, geojson.ErrNoImportableFeatures):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
