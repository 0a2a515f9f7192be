package registry

import (
	"context"
	"errors"
	"fmt"

	"reqstore/manifest"
)

// Edit operations.
const (
	EditAdd    = "add"
	EditPin    = "pin"
	EditRemove = "remove"
)

// EditOp describes a single line edit applied on top of a revision.
type EditOp struct {
	Op      string `json:"op"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Marker  string `json:"marker,omitempty"`
	Comment string `json:"comment,omitempty"`
	Section string `json:"section,omitempty"`
}

// Edit applies op to the payload of baseID and snapshots the result as a
// new revision. Only the latest revision of a project can be edited, and
// only pip manifests support edits.
func (r *Registry) Edit(ctx context.Context, project, baseID string, op EditOp) (*SnapshotResult, error) {
	m, err := r.getLive(ctx, project, baseID)
	if err != nil {
		return nil, err
	}

	latest, err := r.Store.LatestManifest(ctx, project)
	if err != nil {
		return nil, err
	}
	if latest.ID != m.ID {
		return nil, ErrNotLatest
	}

	if m.Format != manifest.FormatPip {
		return nil, fmt.Errorf("%w: cannot edit %s manifests", ErrUnsupportedFormat, m.Format)
	}

	if op.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidEdit)
	}

	data, err := r.Blobs.Get(ctx, m.BlobKey)
	if err != nil {
		return nil, err
	}
	f, err := manifest.Parse(m.Filename, data)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case EditAdd:
		req := manifest.Requirement{
			Name:    op.Name,
			Marker:  op.Marker,
			Comment: op.Comment,
			Section: op.Section,
		}
		if op.Version != "" {
			req.Specifier = []manifest.Comparison{{Op: "==", Version: op.Version}}
		}
		err = f.Add(req)
	case EditPin:
		if op.Version == "" {
			return nil, fmt.Errorf("%w: version is required to pin", ErrInvalidEdit)
		}
		err = f.SetPin(op.Name, op.Version)
	case EditRemove:
		err = f.Remove(op.Name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEditOp, op.Op)
	}
	if err != nil {
		if errors.Is(err, manifest.ErrExists) || errors.Is(err, manifest.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdit, err)
	}

	return r.Snapshot(ctx, project, m.Filename, m.Format, []byte(f.String()))
}
