package storage

import (
	"context"
	"time"
)

func (s *Storage) CreateState(ctx context.Context, name string, when time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO states (name, created_at) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, when)
	return err
}

func (s *Storage) StateExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM states WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

func (s *Storage) ListStates(ctx context.Context) ([]State, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, created_at FROM states ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st.Name, &st.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, st)
	}
	return list, rows.Err()
}

func (s *Storage) SetManifestState(ctx context.Context, manifestID, state string, when time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO manifest_states (manifest_id, state, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(manifest_id, state) DO NOTHING`,
		manifestID, state, when)
	return err
}

func (s *Storage) UnsetManifestState(ctx context.Context, manifestID, state string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM manifest_states WHERE manifest_id = ? AND state = ?`,
		manifestID, state)
	return err
}

func (s *Storage) ManifestStates(ctx context.Context, manifestID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT state FROM manifest_states WHERE manifest_id = ? ORDER BY state`,
		manifestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		list = append(list, st)
	}
	return list, rows.Err()
}
