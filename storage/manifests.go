package storage

import (
	"context"
	"time"
)

const insertRequirementQuery = `
  INSERT INTO requirements (manifest_id, line_no, name, canonical_name, extras, specifier, marker, comment, section)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`

func (s *Storage) InsertManifest(ctx context.Context, m Manifest, reqs []Requirement) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifests (id, project, filename, format, content_hash, blob_key, requirement_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Project, m.Filename, m.Format, m.ContentHash, m.BlobKey, m.RequirementCount, m.CreatedAt,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insertRequirementQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reqs {
		if _, err := stmt.ExecContext(ctx,
			m.ID,
			r.Line,
			r.Name,
			r.CanonicalName,
			r.Extras,
			r.Specifier,
			r.Marker,
			r.Comment,
			r.Section,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET latest_manifest_id = ? WHERE name = ?`,
		m.ID, m.Project,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Storage) GetManifest(ctx context.Context, id string) (Manifest, error) {
	var m Manifest
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, project, filename, format, content_hash, blob_key, requirement_count, created_at, deleted_at
		 FROM manifests WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.Project, &m.Filename, &m.Format, &m.ContentHash, &m.BlobKey, &m.RequirementCount, &m.CreatedAt, &m.DeletedAt)

	return m, err
}

func (s *Storage) GetManifestByHash(ctx context.Context, project, contentHash string) (Manifest, error) {
	var m Manifest
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, project, filename, format, content_hash, blob_key, requirement_count, created_at, deleted_at
		 FROM manifests WHERE project = ? AND content_hash = ?`,
		project, contentHash,
	).Scan(&m.ID, &m.Project, &m.Filename, &m.Format, &m.ContentHash, &m.BlobKey, &m.RequirementCount, &m.CreatedAt, &m.DeletedAt)

	return m, err
}

func (s *Storage) LatestManifest(ctx context.Context, project string) (Manifest, error) {
	var m Manifest
	err := s.DB.QueryRowContext(ctx,
		`SELECT m.id, m.project, m.filename, m.format, m.content_hash, m.blob_key, m.requirement_count, m.created_at, m.deleted_at
		 FROM manifests m JOIN projects p ON p.latest_manifest_id = m.id
		 WHERE p.name = ?`,
		project,
	).Scan(&m.ID, &m.Project, &m.Filename, &m.Format, &m.ContentHash, &m.BlobKey, &m.RequirementCount, &m.CreatedAt, &m.DeletedAt)

	return m, err
}

func (s *Storage) ListManifests(ctx context.Context, project, state string) ([]Manifest, error) {
	query := `
		SELECT id, project, filename, format, content_hash, blob_key, requirement_count, created_at, deleted_at
		FROM manifests
		WHERE project = ? AND deleted_at IS NULL
	`
	args := []any{project}

	if state != "" {
		query += ` AND EXISTS (SELECT 1 FROM manifest_states ms WHERE ms.manifest_id = manifests.id AND ms.state = ?)`
		args = append(args, state)
	}

	query += " ORDER BY created_at DESC, id"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Manifest
	for rows.Next() {
		var m Manifest
		if err := rows.Scan(&m.ID, &m.Project, &m.Filename, &m.Format, &m.ContentHash, &m.BlobKey, &m.RequirementCount, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (s *Storage) ManifestRequirements(ctx context.Context, manifestID string) ([]Requirement, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT manifest_id, line_no, name, canonical_name, extras, specifier, marker, comment, section
		 FROM requirements WHERE manifest_id = ? ORDER BY line_no`,
		manifestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Requirement
	for rows.Next() {
		var r Requirement
		if err := rows.Scan(&r.ManifestID, &r.Line, &r.Name, &r.CanonicalName, &r.Extras, &r.Specifier, &r.Marker, &r.Comment, &r.Section); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// MarkManifestDeleted tombstones a manifest. The row stays so the id keeps
// answering, but its requirement rows, states and the latest pointer go.
func (s *Storage) MarkManifestDeleted(ctx context.Context, id string, when time.Time) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE manifests SET deleted_at = ? WHERE id = ?`, when, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM requirements WHERE manifest_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM manifest_states WHERE manifest_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET latest_manifest_id = NULL WHERE latest_manifest_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ReviveManifest clears a tombstone, restores the requirement rows and
// makes the manifest its project's latest again.
func (s *Storage) ReviveManifest(ctx context.Context, id string, when time.Time, reqs []Requirement) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE manifests SET deleted_at = NULL, created_at = ? WHERE id = ?`, when, id); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insertRequirementQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reqs {
		if _, err := stmt.ExecContext(ctx,
			id,
			r.Line,
			r.Name,
			r.CanonicalName,
			r.Extras,
			r.Specifier,
			r.Marker,
			r.Comment,
			r.Section,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET latest_manifest_id = ? WHERE name = (SELECT project FROM manifests WHERE id = ?)`,
		id, id,
	); err != nil {
		return err
	}

	return tx.Commit()
}
