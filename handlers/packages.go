package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	staleStr := r.URL.Query().Get("stale")

	var checkedBefore *time.Time
	if staleStr != "" {
		d, err := time.ParseDuration(staleStr)
		if err != nil || d < 0 {
			http.Error(w, "invalid stale value", http.StatusBadRequest)
			return
		}
		t := time.Now().UTC().Add(-d)
		checkedBefore = &t
	}

	pkgs, err := h.Store.ListPackagesFiltered(r.Context(), name, checkedBefore)
	if err != nil {
		h.Log.WithError(err).Error("listing packages with filters")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pkgs); err != nil {
		h.Log.WithError(err).Error("encoding packages list response")
	}
}

// RefreshPackages kicks off a metadata refresh for every referenced
// package and returns immediately. The refresh keeps its own timeout so
// it survives the request context.
func (h *Handler) RefreshPackages(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.Refresh.RefreshAll(ctx); err != nil {
			h.Log.WithError(err).Error("refreshing package metadata")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
