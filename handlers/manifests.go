package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"reqstore/manifest"
	"reqstore/registry"
)

// maxManifestSize bounds uploaded payloads. Requirement files are tiny,
// anything past this is not a manifest.
const maxManifestSize = 1 << 20

func defaultFilename(format string) string {
	if format == manifest.FormatConda {
		return "environment.yml"
	}
	return "requirements.txt"
}

// formatFromRequest picks the manifest format: an explicit ?format= wins,
// then a yaml Content-Type, then pip.
func formatFromRequest(r *http.Request) string {
	if format := r.URL.Query().Get("format"); format != "" {
		return format
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return manifest.FormatConda
	}
	return manifest.FormatPip
}

func (h *Handler) SnapshotManifest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxManifestSize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty manifest payload", http.StatusBadRequest)
		return
	}
	if len(data) > maxManifestSize {
		http.Error(w, "manifest payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	format := formatFromRequest(r)
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = defaultFilename(format)
	}

	res, err := h.Registry.Snapshot(r.Context(), chi.URLParam(r, "project"), filename, format, data)
	if err != nil {
		h.writeError(w, err, "storing manifest")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.Log.WithError(err).Error("encoding snapshot response")
	}
}

func (h *Handler) ListManifests(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	if _, err := h.Store.GetProject(r.Context(), project); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		h.Log.WithError(err).Error("fetching project")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	manifests, err := h.Store.ListManifests(r.Context(), project, r.URL.Query().Get("state"))
	if err != nil {
		h.Log.WithError(err).Error("listing manifests")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(manifests); err != nil {
		h.Log.WithError(err).Error("encoding manifests list response")
	}
}

func (h *Handler) GetLatestManifest(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Registry.Latest(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		h.writeError(w, err, "fetching latest manifest")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(detail); err != nil {
		h.Log.WithError(err).Error("encoding manifest response")
	}
}

func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Registry.Manifest(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "fetching manifest")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(detail); err != nil {
		h.Log.WithError(err).Error("encoding manifest response")
	}
}

func (h *Handler) GetManifestRaw(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("presign") == "true" {
		expiry := 15 * time.Minute
		if s := r.URL.Query().Get("expiry"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				http.Error(w, "invalid expiry value", http.StatusBadRequest)
				return
			}
			expiry = d
		}

		url, err := h.Registry.PresignRaw(r.Context(), project, id, expiry)
		if err != nil {
			h.writeError(w, err, "presigning manifest payload")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"url": url}); err != nil {
			h.Log.WithError(err).Error("encoding presign response")
		}
		return
	}

	data, m, err := h.Registry.Raw(r.Context(), project, id)
	if err != nil {
		h.writeError(w, err, "fetching manifest payload")
		return
	}

	contentType := "text/plain; charset=utf-8"
	if m.Format == manifest.FormatConda {
		contentType = "application/x-yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.Filename))
	if _, err := w.Write(data); err != nil {
		h.Log.WithError(err).Error("writing manifest payload")
	}
}

func (h *Handler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Delete(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err, "deleting manifest")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EditManifest(w http.ResponseWriter, r *http.Request) {
	var op registry.EditOp
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	res, err := h.Registry.Edit(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"), op)
	if err != nil {
		h.writeError(w, err, "editing manifest")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.Log.WithError(err).Error("encoding edit response")
	}
}

type diffEntry struct {
	Name      string `json:"name"`
	Specifier string `json:"specifier,omitempty"`
	Marker    string `json:"marker,omitempty"`
}

type diffChange struct {
	Name string    `json:"name"`
	From diffEntry `json:"from"`
	To   diffEntry `json:"to"`
}

type diffResponse struct {
	From    string       `json:"from"`
	To      string       `json:"to"`
	Added   []diffEntry  `json:"added"`
	Removed []diffEntry  `json:"removed"`
	Changed []diffChange `json:"changed"`
}

func toDiffEntry(req manifest.Requirement) diffEntry {
	return diffEntry{Name: req.Name, Specifier: req.SpecifierString(), Marker: req.Marker}
}

func (h *Handler) DiffManifests(w http.ResponseWriter, r *http.Request) {
	fromID := chi.URLParam(r, "id")
	toID := chi.URLParam(r, "to")

	ch, err := h.Registry.DiffRevisions(r.Context(), chi.URLParam(r, "project"), fromID, toID)
	if err != nil {
		h.writeError(w, err, "diffing manifests")
		return
	}

	resp := diffResponse{
		From:    fromID,
		To:      toID,
		Added:   []diffEntry{},
		Removed: []diffEntry{},
		Changed: []diffChange{},
	}
	for _, req := range ch.Added {
		resp.Added = append(resp.Added, toDiffEntry(req))
	}
	for _, req := range ch.Removed {
		resp.Removed = append(resp.Removed, toDiffEntry(req))
	}
	for _, c := range ch.Changed {
		resp.Changed = append(resp.Changed, diffChange{Name: c.Name, From: toDiffEntry(c.From), To: toDiffEntry(c.To)})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Log.WithError(err).Error("encoding diff response")
	}
}

func (h *Handler) OutdatedManifest(w http.ResponseWriter, r *http.Request) {
	report, err := h.Registry.Outdated(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "building outdated report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.Log.WithError(err).Error("encoding outdated report response")
	}
}

type lintRequirement struct {
	Name          string   `json:"name"`
	CanonicalName string   `json:"canonical_name"`
	Extras        []string `json:"extras,omitempty"`
	Specifier     string   `json:"specifier,omitempty"`
	Marker        string   `json:"marker,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	Section       string   `json:"section,omitempty"`
	Line          int      `json:"line"`
	Applies       *bool    `json:"applies,omitempty"`
}

type lintResponse struct {
	Valid        bool              `json:"valid"`
	Issues       []manifest.Issue  `json:"issues"`
	Requirements []lintRequirement `json:"requirements"`
}

// LintManifest checks a payload without storing it. Marker variables can
// be overridden with query parameters, e.g. ?python_version=3.9.
func (h *Handler) LintManifest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxManifestSize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty manifest payload", http.StatusBadRequest)
		return
	}
	if len(data) > maxManifestSize {
		http.Error(w, "manifest payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	format := formatFromRequest(r)

	env := manifest.DefaultEnvironment()
	for name := range env {
		if v := r.URL.Query().Get(name); v != "" {
			env[name] = v
		}
	}

	resp := lintResponse{Issues: []manifest.Issue{}, Requirements: []lintRequirement{}}

	var reqs []manifest.Requirement
	switch format {
	case manifest.FormatPip:
		f, err := manifest.Parse("requirements.txt", data)
		if err != nil {
			var perrs *manifest.ParseErrors
			if !errors.As(err, &perrs) {
				h.Log.WithError(err).Error("linting manifest")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			resp.Issues = perrs.Issues()
		} else {
			resp.Issues = append(resp.Issues, manifest.Lint(f)...)
			reqs = f.Requirements()
		}
	case manifest.FormatConda:
		condaEnv, err := manifest.ParseCondaEnvironment(data)
		if err != nil {
			resp.Issues = append(resp.Issues, manifest.Issue{
				Severity: manifest.SeverityError,
				Code:     manifest.CodeSyntax,
				Message:  err.Error(),
			})
		} else {
			reqs = condaEnv.Requirements
		}
	default:
		http.Error(w, "unsupported manifest format", http.StatusBadRequest)
		return
	}

	resp.Valid = !manifest.HasErrors(resp.Issues)
	for _, req := range reqs {
		row := lintRequirement{
			Name:          req.Name,
			CanonicalName: req.Canonical(),
			Extras:        req.Extras,
			Specifier:     req.SpecifierString(),
			Marker:        req.Marker,
			Comment:       req.Comment,
			Section:       req.Section,
			Line:          req.Line,
		}
		if req.Marker != "" {
			if ok, err := manifest.EvalMarker(req.Marker, env); err == nil {
				row.Applies = &ok
			}
		}
		resp.Requirements = append(resp.Requirements, row)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Log.WithError(err).Error("encoding lint response")
	}
}
