package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"reqstore/blob"
	"reqstore/manifest"
	"reqstore/registry"
	"reqstore/storage"
)

type Storage interface {
	Ping(ctx context.Context) error
	ListProjects(ctx context.Context) ([]storage.Project, error)
	GetProject(ctx context.Context, name string) (storage.Project, error)
	ListManifests(ctx context.Context, project, state string) ([]storage.Manifest, error)
	ListStates(ctx context.Context) ([]storage.State, error)
	ListPackagesFiltered(ctx context.Context, name string, checkedBefore *time.Time) ([]storage.Package, error)
}

type Registry interface {
	Snapshot(ctx context.Context, project, filename, format string, data []byte) (*registry.SnapshotResult, error)
	Manifest(ctx context.Context, project, id string) (*registry.ManifestDetail, error)
	Latest(ctx context.Context, project string) (*registry.ManifestDetail, error)
	Raw(ctx context.Context, project, id string) ([]byte, *storage.Manifest, error)
	PresignRaw(ctx context.Context, project, id string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, project, id string) error
	Edit(ctx context.Context, project, baseID string, op registry.EditOp) (*registry.SnapshotResult, error)
	DiffRevisions(ctx context.Context, project, fromID, toID string) (*manifest.Changes, error)
	Outdated(ctx context.Context, project, id string) (*registry.OutdatedReport, error)
	CreateState(ctx context.Context, name string) (bool, error)
	SetState(ctx context.Context, project, id, state string) error
	UnsetState(ctx context.Context, project, id, state string) error
}

type Refresher interface {
	RefreshAll(ctx context.Context) error
}

type Handler struct {
	Store    Storage
	Registry Registry
	Refresh  Refresher
	Log      *logrus.Logger
}

// writeError maps domain errors to HTTP statuses. Rejected manifests get
// a JSON body listing the lint issues, everything else stays plain text.
func (h *Handler) writeError(w http.ResponseWriter, err error, action string) {
	var verr *registry.ValidationError
	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		if encErr := json.NewEncoder(w).Encode(map[string]any{
			"message": "manifest rejected",
			"issues":  verr.Issues,
		}); encErr != nil {
			h.Log.WithError(encErr).Error("encoding validation issues response")
		}
	case errors.Is(err, registry.ErrInvalidProject),
		errors.Is(err, registry.ErrInvalidStateName),
		errors.Is(err, registry.ErrReservedState),
		errors.Is(err, registry.ErrUnsupportedFormat),
		errors.Is(err, registry.ErrInvalidEdit),
		errors.Is(err, registry.ErrUnknownEditOp):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrProjectNotFound),
		errors.Is(err, registry.ErrManifestNotFound),
		errors.Is(err, registry.ErrStateNotFound),
		errors.Is(err, manifest.ErrNotFound),
		errors.Is(err, blob.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrManifestDeleted):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, registry.ErrNotLatest),
		errors.Is(err, manifest.ErrExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, blob.ErrPresignNotSupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		h.Log.WithError(err).Error(action)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		h.Log.WithError(err).Error("pinging database")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		h.Log.WithError(err).Error("encoding health response")
	}
}

func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	http.ServeFile(w, r, "openapi.yaml")
}

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`

func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(docsPage)); err != nil {
		h.Log.WithError(err).Error("writing docs page")
	}
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		h.Log.WithError(err).Error("listing projects")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(projects); err != nil {
		h.Log.WithError(err).Error("encoding projects list response")
	}
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.Store.GetProject(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		h.Log.WithError(err).Error("fetching project")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(project); err != nil {
		h.Log.WithError(err).Error("encoding project response")
	}
}
