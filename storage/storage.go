package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/mattn/go-sqlite3"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type Storage struct {
	DB *sql.DB
}

// Open connects to the sqlite database at path, wrapping the driver so
// queries show up in traces.
func Open(path string) (*sql.DB, error) {
	driverName, err := otelsql.Register("sqlite3",
		otelsql.WithAttributes(semconv.DBSystemSqlite),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func (s *Storage) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		latest_manifest_id TEXT
	);

	CREATE TABLE IF NOT EXISTS manifests (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL REFERENCES projects(name),
		filename TEXT NOT NULL,
		format TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		requirement_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		UNIQUE(project, content_hash)
	);

	CREATE TABLE IF NOT EXISTS requirements (
		manifest_id TEXT NOT NULL REFERENCES manifests(id),
		line_no INTEGER NOT NULL,
		name TEXT NOT NULL,
		canonical_name TEXT NOT NULL,
		extras TEXT NOT NULL DEFAULT '',
		specifier TEXT NOT NULL DEFAULT '',
		marker TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (manifest_id, line_no)
	);
	CREATE INDEX IF NOT EXISTS idx_requirements_canonical ON requirements(canonical_name);

	CREATE TABLE IF NOT EXISTS states (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS manifest_states (
		manifest_id TEXT NOT NULL REFERENCES manifests(id),
		state TEXT NOT NULL REFERENCES states(name),
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (manifest_id, state)
	);

	CREATE TABLE IF NOT EXISTS packages (
		canonical_name TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		latest_version TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT '',
		home_page TEXT NOT NULL DEFAULT '',
		dependency_count INTEGER NOT NULL DEFAULT 0,
		checked_at TIMESTAMP NOT NULL
	);`
	_, err := s.DB.ExecContext(ctx, query)
	return err
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Storage) UpsertProject(ctx context.Context, name string, createdAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO projects (name, created_at) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, createdAt)
	return err
}

func (s *Storage) GetProject(ctx context.Context, name string) (Project, error) {
	var p Project
	err := s.DB.QueryRowContext(ctx,
		`SELECT p.name, p.created_at, COALESCE(p.latest_manifest_id, ''),
			(SELECT COUNT(*) FROM manifests m WHERE m.project = p.name AND m.deleted_at IS NULL)
		 FROM projects p WHERE p.name = ?`,
		name,
	).Scan(&p.Name, &p.CreatedAt, &p.LatestManifestID, &p.ManifestCount)

	return p, err
}

func (s *Storage) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT p.name, p.created_at, COALESCE(p.latest_manifest_id, ''),
			(SELECT COUNT(*) FROM manifests m WHERE m.project = p.name AND m.deleted_at IS NULL)
		 FROM projects p ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.Name, &p.CreatedAt, &p.LatestManifestID, &p.ManifestCount); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
