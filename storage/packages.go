package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const upsertPackageQuery = `
  INSERT INTO packages (canonical_name, name, latest_version, summary, license, home_page, dependency_count, checked_at)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
  ON CONFLICT(canonical_name)
  DO UPDATE SET
    name = excluded.name,
    latest_version = excluded.latest_version,
    summary = excluded.summary,
    license = excluded.license,
    home_page = excluded.home_page,
    dependency_count = excluded.dependency_count,
    checked_at = excluded.checked_at;
`

func (s *Storage) UpsertPackages(ctx context.Context, pkgs []Package) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertPackageQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, pkg := range pkgs {
		if _, err := stmt.ExecContext(ctx,
			pkg.CanonicalName,
			pkg.Name,
			pkg.LatestVersion,
			pkg.Summary,
			pkg.License,
			pkg.HomePage,
			pkg.DependencyCount,
			pkg.CheckedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReferencedPackages lists the distinct packages declared by live
// manifests, one entry per canonical name.
func (s *Storage) ReferencedPackages(ctx context.Context) ([]Package, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT r.canonical_name, MIN(r.name)
		 FROM requirements r
		 JOIN manifests m ON m.id = r.manifest_id
		 WHERE m.deleted_at IS NULL
		 GROUP BY r.canonical_name
		 ORDER BY r.canonical_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Package
	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.CanonicalName, &pkg.Name); err != nil {
			return nil, err
		}
		list = append(list, pkg)
	}
	return list, rows.Err()
}

func (s *Storage) GetPackagesMap(ctx context.Context, canonicalNames []string) (map[string]Package, error) {
	if len(canonicalNames) == 0 {
		return map[string]Package{}, nil
	}

	var args []any
	for _, name := range canonicalNames {
		args = append(args, name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(canonicalNames)), ", ")

	query := fmt.Sprintf(`
		SELECT canonical_name, name, latest_version, summary, license, home_page, dependency_count, checked_at
		FROM packages
		WHERE canonical_name IN (%s);
	`, placeholders)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]Package)
	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.CanonicalName, &pkg.Name, &pkg.LatestVersion, &pkg.Summary, &pkg.License, &pkg.HomePage, &pkg.DependencyCount, &pkg.CheckedAt); err != nil {
			return nil, err
		}
		result[pkg.CanonicalName] = pkg
	}

	return result, rows.Err()
}

func (s *Storage) ListPackagesFiltered(ctx context.Context, name string, checkedBefore *time.Time) ([]Package, error) {
	query := `
		SELECT canonical_name, name, latest_version, summary, license, home_page, dependency_count, checked_at
		FROM packages
		WHERE 1=1
	`
	var args []any

	if name != "" {
		query += " AND canonical_name LIKE ?"
		args = append(args, "%"+name+"%")
	}

	if checkedBefore != nil {
		query += " AND checked_at < ?"
		args = append(args, *checkedBefore)
	}

	query += " ORDER BY canonical_name"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Package
	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.CanonicalName, &pkg.Name, &pkg.LatestVersion, &pkg.Summary, &pkg.License, &pkg.HomePage, &pkg.DependencyCount, &pkg.CheckedAt); err != nil {
			return nil, err
		}
		list = append(list, pkg)
	}
	return list, rows.Err()
}
