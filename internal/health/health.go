// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// DurabilityReporter reports whether state writes reach a durable
// store or the service is running memory-only.
type DurabilityReporter interface {
	Durable() bool
}

// Readiness always reports ready (memory-only operation is a supported
// degraded mode) but surfaces the storage status for operators.
func Readiness(dr DurabilityReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status  string `json:"status"`
			Storage string `json:"storage"`
		}
		out := resp{Status: "ready", Storage: "durable"}
		if !dr.Durable() {
			out.Storage = "memory_only"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
