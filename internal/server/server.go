// Package server wires the workbench API onto chi and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aoi-tools/aoi-workbench/internal/config"
	"github.com/aoi-tools/aoi-workbench/internal/health"
	"github.com/aoi-tools/aoi-workbench/internal/middleware"
)

// Run sets up routing and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, api *API) error {
	r := NewRouter(logger, api)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// NewRouter builds the chi router; split out so handler tests can
// exercise the full routing table.
func NewRouter(logger *slog.Logger, api *API) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(api.adapter))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/aois", api.observed("/aois", api.listAOIs))
	r.Post("/aois", api.observed("/aois", api.createAOI))
	r.Delete("/aois", api.observed("/aois", api.deleteAll))
	r.Post("/aois/mgrs", api.observed("/aois/mgrs", api.createFromMGRS))
	r.Get("/aois/at", api.observed("/aois/at", api.hitTest))
	r.Patch("/aois/{id}/name", api.observed("/aois/{id}/name", api.rename))
	r.Put("/aois/{id}/boundary", api.observed("/aois/{id}/boundary", api.updateBoundary))
	r.Delete("/aois/{id}", api.observed("/aois/{id}", api.deleteAOI))
	r.Post("/aois/{id}/select", api.observed("/aois/{id}/select", api.selectAOI))
	r.Post("/aois/{id}/edit", api.observed("/aois/{id}/edit", api.beginEdit))
	r.Post("/aois/{id}/edit/complete", api.observed("/aois/{id}/edit/complete", api.completeEdit))
	r.Post("/aois/{id}/edit/cancel", api.observed("/aois/{id}/edit/cancel", api.cancelEdit))
	r.Get("/selection", api.observed("/selection", api.selection))
	r.Post("/selection/clear", api.observed("/selection/clear", api.clearSelection))
	r.Post("/import", api.observed("/import", api.importGeoJSON))
	r.Get("/export", api.observed("/export", api.exportGeoJSON))
	r.Get("/project/name", api.observed("/project/name", api.getProjectName))
	r.Put("/project/name", api.observed("/project/name", api.putProjectName))

	return r
}
