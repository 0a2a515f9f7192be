// Package registry implements the manifest registry: immutable snapshots
// with content dedup, retrieval, line edits, named states and reports,
// on top of sql storage and a blob store.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reqstore/blob"
	"reqstore/manifest"
	"reqstore/storage"
)

var (
	ErrInvalidProject    = errors.New("invalid project name")
	ErrProjectNotFound   = errors.New("project not found")
	ErrManifestNotFound  = errors.New("manifest not found")
	ErrManifestDeleted   = errors.New("manifest deleted")
	ErrNotLatest         = errors.New("manifest is not the latest revision")
	ErrStateNotFound     = errors.New("state not found")
	ErrReservedState     = errors.New("state name is reserved")
	ErrInvalidStateName  = errors.New("invalid state name")
	ErrUnsupportedFormat = errors.New("unsupported manifest format")
	ErrInvalidEdit       = errors.New("invalid edit")
	ErrUnknownEditOp     = errors.New("unknown edit operation")
)

// ValidationError rejects a manifest payload, carrying the lint issues
// that caused the rejection.
type ValidationError struct {
	Issues []manifest.Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest rejected: %d issues", len(e.Issues))
}

var projectNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidProjectName reports whether name can be used as a project name.
func ValidProjectName(name string) bool {
	return projectNameRe.MatchString(name)
}

type Store interface {
	UpsertProject(ctx context.Context, name string, createdAt time.Time) error
	GetProject(ctx context.Context, name string) (storage.Project, error)
	InsertManifest(ctx context.Context, m storage.Manifest, reqs []storage.Requirement) error
	GetManifest(ctx context.Context, id string) (storage.Manifest, error)
	GetManifestByHash(ctx context.Context, project, contentHash string) (storage.Manifest, error)
	LatestManifest(ctx context.Context, project string) (storage.Manifest, error)
	ManifestRequirements(ctx context.Context, manifestID string) ([]storage.Requirement, error)
	MarkManifestDeleted(ctx context.Context, id string, when time.Time) error
	ReviveManifest(ctx context.Context, id string, when time.Time, reqs []storage.Requirement) error
	CreateState(ctx context.Context, name string, when time.Time) error
	StateExists(ctx context.Context, name string) (bool, error)
	SetManifestState(ctx context.Context, manifestID, state string, when time.Time) error
	UnsetManifestState(ctx context.Context, manifestID, state string) error
	ManifestStates(ctx context.Context, manifestID string) ([]string, error)
	GetPackagesMap(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error)
}

type Registry struct {
	Store Store
	Blobs blob.Store
	Log   *logrus.Logger
}

// SnapshotResult reports the manifest a payload resolved to. Created is
// false when the payload was a byte-identical duplicate of a live
// revision.
type SnapshotResult struct {
	Manifest storage.Manifest `json:"manifest"`
	Created  bool             `json:"created"`
}

// ManifestDetail is a manifest revision with its requirement rows and
// attached states.
type ManifestDetail struct {
	storage.Manifest
	Requirements []storage.Requirement `json:"requirements"`
	States       []string              `json:"states,omitempty"`
}

// Snapshot stores a manifest payload as a new immutable revision of
// project. Identical content resolves to the existing revision, and
// re-uploading the content of a deleted revision revives it.
func (r *Registry) Snapshot(ctx context.Context, project, filename, format string, data []byte) (*SnapshotResult, error) {
	if !ValidProjectName(project) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}

	reqs, err := extractRequirements(filename, format, data)
	if err != nil {
		return nil, err
	}
	rows := requirementRows(reqs)

	contentHash := fmt.Sprintf("%016x", xxhash.Sum64(data))
	now := time.Now().UTC()

	if err := r.Store.UpsertProject(ctx, project, now); err != nil {
		return nil, err
	}

	existing, err := r.Store.GetManifestByHash(ctx, project, contentHash)
	switch {
	case err == nil && existing.DeletedAt == nil:
		return &SnapshotResult{Manifest: existing, Created: false}, nil
	case err == nil:
		// Tombstoned revision with the same content: revive it.
		if err := r.Blobs.Put(ctx, existing.BlobKey, data, contentTypeFor(format)); err != nil {
			return nil, fmt.Errorf("store payload: %w", err)
		}
		if err := r.Store.ReviveManifest(ctx, existing.ID, now, rows); err != nil {
			return nil, err
		}
		existing.DeletedAt = nil
		existing.CreatedAt = now
		r.Log.Infof("Revived manifest %s for project %s", existing.ID, project)
		return &SnapshotResult{Manifest: existing, Created: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	id := uuid.NewString()
	m := storage.Manifest{
		ID:               id,
		Project:          project,
		Filename:         filename,
		Format:           format,
		ContentHash:      contentHash,
		BlobKey:          fmt.Sprintf("manifests/%s/%s%s", project, id, extensionFor(format)),
		RequirementCount: len(rows),
		CreatedAt:        now,
	}

	if err := r.Blobs.Put(ctx, m.BlobKey, data, contentTypeFor(format)); err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}

	if err := r.Store.InsertManifest(ctx, m, rows); err != nil {
		if delErr := r.Blobs.Delete(ctx, m.BlobKey); delErr != nil {
			r.Log.WithError(delErr).Warnf("orphaned blob %s after failed insert", m.BlobKey)
		}
		return nil, err
	}

	r.Log.Infof("Stored manifest %s for project %s (%d requirements)", id, project, len(rows))
	return &SnapshotResult{Manifest: m, Created: true}, nil
}

// Manifest returns one revision with its requirements and states.
func (r *Registry) Manifest(ctx context.Context, project, id string) (*ManifestDetail, error) {
	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return nil, err
	}
	return r.detail(ctx, m)
}

// Latest returns the newest live revision of project.
func (r *Registry) Latest(ctx context.Context, project string) (*ManifestDetail, error) {
	m, err := r.Store.LatestManifest(ctx, project)
	if errors.Is(err, sql.ErrNoRows) {
		if _, perr := r.Store.GetProject(ctx, project); errors.Is(perr, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		} else if perr != nil {
			return nil, perr
		}
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.detail(ctx, m)
}

// Raw returns the stored payload of a live revision.
func (r *Registry) Raw(ctx context.Context, project, id string) ([]byte, *storage.Manifest, error) {
	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := r.Blobs.Get(ctx, m.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return data, &m, nil
}

// PresignRaw returns a time-limited download URL for the stored payload.
func (r *Registry) PresignRaw(ctx context.Context, project, id string, expiry time.Duration) (string, error) {
	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return "", err
	}
	return r.Blobs.Presign(ctx, m.BlobKey, expiry)
}

// Delete tombstones a revision. The id keeps answering lookups with
// ErrManifestDeleted, and re-uploading the same content revives it.
func (r *Registry) Delete(ctx context.Context, project, id string) error {
	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return err
	}

	if err := r.Store.MarkManifestDeleted(ctx, m.ID, time.Now().UTC()); err != nil {
		return err
	}
	if err := r.Blobs.Delete(ctx, m.BlobKey); err != nil {
		r.Log.WithError(err).Warnf("failed to delete blob %s", m.BlobKey)
	}

	r.Log.Infof("Deleted manifest %s from project %s", m.ID, project)
	return nil
}

func (r *Registry) detail(ctx context.Context, m storage.Manifest) (*ManifestDetail, error) {
	rows, err := r.Store.ManifestRequirements(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	states, err := r.Store.ManifestStates(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return &ManifestDetail{Manifest: m, Requirements: rows, States: states}, nil
}

// getLive resolves a manifest id within a project, distinguishing a
// missing project, a missing manifest and a tombstoned one.
func (r *Registry) getLive(ctx context.Context, project, id string) (storage.Manifest, error) {
	m, err := r.Store.GetManifest(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		if _, perr := r.Store.GetProject(ctx, project); errors.Is(perr, sql.ErrNoRows) {
			return storage.Manifest{}, ErrProjectNotFound
		} else if perr != nil {
			return storage.Manifest{}, perr
		}
		return storage.Manifest{}, ErrManifestNotFound
	}
	if err != nil {
		return storage.Manifest{}, err
	}
	if m.Project != project {
		return storage.Manifest{}, ErrManifestNotFound
	}
	if m.DeletedAt != nil {
		return storage.Manifest{}, ErrManifestDeleted
	}
	return m, nil
}

func extractRequirements(filename, format string, data []byte) ([]manifest.Requirement, error) {
	switch format {
	case manifest.FormatPip:
		f, err := manifest.Parse(filename, data)
		if err != nil {
			var perrs *manifest.ParseErrors
			if errors.As(err, &perrs) {
				return nil, &ValidationError{Issues: perrs.Issues()}
			}
			return nil, err
		}
		if issues := manifest.Lint(f); manifest.HasErrors(issues) {
			return nil, &ValidationError{Issues: issues}
		}
		return f.Requirements(), nil
	case manifest.FormatConda:
		env, err := manifest.ParseCondaEnvironment(data)
		if err != nil {
			return nil, &ValidationError{Issues: []manifest.Issue{{
				Severity: manifest.SeverityError,
				Code:     manifest.CodeSyntax,
				Message:  err.Error(),
			}}}
		}
		return env.Requirements, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func requirementRows(reqs []manifest.Requirement) []storage.Requirement {
	rows := make([]storage.Requirement, 0, len(reqs))
	for _, req := range reqs {
		rows = append(rows, storage.Requirement{
			Line:          req.Line,
			Name:          req.Name,
			CanonicalName: req.Canonical(),
			Extras:        strings.Join(req.Extras, ","),
			Specifier:     req.SpecifierString(),
			Marker:        req.Marker,
			Comment:       req.Comment,
			Section:       req.Section,
		})
	}
	return rows
}

func contentTypeFor(format string) string {
	if format == manifest.FormatConda {
		return "application/x-yaml"
	}
	return "text/plain; charset=utf-8"
}

func extensionFor(format string) string {
	if format == manifest.FormatConda {
		return ".yml"
	}
	return ".txt"
}
