package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.Store.ListStates(r.Context())
	if err != nil {
		h.Log.WithError(err).Error("listing states")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(states); err != nil {
		h.Log.WithError(err).Error("encoding states list response")
	}
}

func (h *Handler) CreateState(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if input.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	created, err := h.Registry.CreateState(r.Context(), input.Name)
	if err != nil {
		h.writeError(w, err, "creating state")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"name": input.Name, "created": created}); err != nil {
		h.Log.WithError(err).Error("encoding state response")
	}
}

func (h *Handler) SetManifestState(w http.ResponseWriter, r *http.Request) {
	err := h.Registry.SetState(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"), chi.URLParam(r, "state"))
	if err != nil {
		h.writeError(w, err, "setting manifest state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnsetManifestState(w http.ResponseWriter, r *http.Request) {
	err := h.Registry.UnsetState(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"), chi.URLParam(r, "state"))
	if err != nil {
		h.writeError(w, err, "unsetting manifest state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
