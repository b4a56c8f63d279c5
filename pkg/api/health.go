package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/cuemby/beacon/pkg/metrics"
)

// mountHealth registers the operational endpoints next to the API
func mountHealth(r chi.Router) {
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())
}
