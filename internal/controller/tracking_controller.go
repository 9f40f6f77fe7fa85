// internal/controller/tracking_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sendfox/sendfox-backend/internal/service"
)

type TrackingController struct {
	Tracking *service.TrackingService
	Tick     *service.TickService
}

// RecordAction resolves a tracking token, logs the click and redirects the
// visitor to the link's destination.
func (c *TrackingController) RecordAction(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	destination, err := c.Tracking.RecordAction(token, r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}
	if destination == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, destination, http.StatusFound)
}

// RunTick is the externally triggered scheduler entry point. Safe to call
// from redundant schedulers; claims make overlapping ticks harmless.
func (c *TrackingController) RunTick(w http.ResponseWriter, r *http.Request) {
	result, err := c.Tick.RunTick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}
