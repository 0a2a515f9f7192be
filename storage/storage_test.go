package storage_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"reqstore/storage"
)

func setupTestDB(t *testing.T) (*sql.DB, *storage.Storage) {
	db, err := sql.Open("sqlite3", ":memory:")
	assert.NoError(t, err)

	store := &storage.Storage{DB: db}
	err = store.InitSchema(context.Background())
	assert.NoError(t, err)

	return db, store
}

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func insertTestManifest(t *testing.T, store *storage.Storage, id, project string, createdAt time.Time, reqs []storage.Requirement) storage.Manifest {
	t.Helper()

	assert.NoError(t, store.UpsertProject(context.Background(), project, createdAt))

	m := storage.Manifest{
		ID:               id,
		Project:          project,
		Filename:         "requirements.txt",
		Format:           "pip",
		ContentHash:      "hash-" + id,
		BlobKey:          "manifests/" + project + "/" + id + ".txt",
		RequirementCount: len(reqs),
		CreatedAt:        createdAt,
	}
	assert.NoError(t, store.InsertManifest(context.Background(), m, reqs))
	return m
}

func TestUpsertAndGetProject(t *testing.T) {
	_, store := setupTestDB(t)

	err := store.UpsertProject(context.Background(), "billing", testTime)
	assert.NoError(t, err)

	err = store.UpsertProject(context.Background(), "billing", testTime.Add(time.Hour))
	assert.NoError(t, err)

	got, err := store.GetProject(context.Background(), "billing")
	assert.NoError(t, err)
	assert.Equal(t, "billing", got.Name)
	assert.True(t, got.CreatedAt.Equal(testTime))
	assert.Equal(t, "", got.LatestManifestID)
	assert.Equal(t, 0, got.ManifestCount)
}

func TestGetProjectNotFound(t *testing.T) {
	_, store := setupTestDB(t)

	_, err := store.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListProjects(t *testing.T) {
	_, store := setupTestDB(t)

	assert.NoError(t, store.UpsertProject(context.Background(), "frontend", testTime))
	assert.NoError(t, store.UpsertProject(context.Background(), "billing", testTime))

	list, err := store.ListProjects(context.Background())
	assert.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "billing", list[0].Name)
	assert.Equal(t, "frontend", list[1].Name)
}

func TestInsertAndGetManifest(t *testing.T) {
	_, store := setupTestDB(t)

	reqs := []storage.Requirement{
		{Line: 2, Name: "Flask", CanonicalName: "flask", Specifier: "==3.0.3", Section: "Web framework"},
		{Line: 3, Name: "requests", CanonicalName: "requests", Specifier: "==2.32.3", Marker: `python_version >= "3.8"`},
	}
	m := insertTestManifest(t, store, "m1", "billing", testTime, reqs)

	got, err := store.GetManifest(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Equal(t, m.Project, got.Project)
	assert.Equal(t, m.ContentHash, got.ContentHash)
	assert.Equal(t, m.BlobKey, got.BlobKey)
	assert.Equal(t, 2, got.RequirementCount)
	assert.Nil(t, got.DeletedAt)

	stored, err := store.ManifestRequirements(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, "flask", stored[0].CanonicalName)
	assert.Equal(t, "Web framework", stored[0].Section)
	assert.Equal(t, `python_version >= "3.8"`, stored[1].Marker)

	proj, err := store.GetProject(context.Background(), "billing")
	assert.NoError(t, err)
	assert.Equal(t, "m1", proj.LatestManifestID)
	assert.Equal(t, 1, proj.ManifestCount)
}

func TestGetManifestByHash(t *testing.T) {
	_, store := setupTestDB(t)

	insertTestManifest(t, store, "m1", "billing", testTime, nil)

	got, err := store.GetManifestByHash(context.Background(), "billing", "hash-m1")
	assert.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	_, err = store.GetManifestByHash(context.Background(), "billing", "other")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLatestManifest(t *testing.T) {
	_, store := setupTestDB(t)

	insertTestManifest(t, store, "m1", "billing", testTime, nil)
	insertTestManifest(t, store, "m2", "billing", testTime.Add(time.Hour), nil)

	got, err := store.LatestManifest(context.Background(), "billing")
	assert.NoError(t, err)
	assert.Equal(t, "m2", got.ID)

	_, err = store.LatestManifest(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListManifests(t *testing.T) {
	_, store := setupTestDB(t)

	insertTestManifest(t, store, "m1", "billing", testTime, nil)
	insertTestManifest(t, store, "m2", "billing", testTime.Add(time.Hour), nil)

	t.Run("list all", func(t *testing.T) {
		list, err := store.ListManifests(context.Background(), "billing", "")
		assert.NoError(t, err)
		assert.Len(t, list, 2)
		assert.Equal(t, "m2", list[0].ID)
		assert.Equal(t, "m1", list[1].ID)
	})

	t.Run("filter by state", func(t *testing.T) {
		assert.NoError(t, store.CreateState(context.Background(), "production", testTime))
		assert.NoError(t, store.SetManifestState(context.Background(), "m1", "production", testTime))

		list, err := store.ListManifests(context.Background(), "billing", "production")
		assert.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Equal(t, "m1", list[0].ID)
	})

	t.Run("no match", func(t *testing.T) {
		list, err := store.ListManifests(context.Background(), "other", "")
		assert.NoError(t, err)
		assert.Len(t, list, 0)
	})
}

func TestMarkManifestDeleted(t *testing.T) {
	_, store := setupTestDB(t)

	reqs := []storage.Requirement{
		{Line: 1, Name: "flask", CanonicalName: "flask", Specifier: "==3.0.3"},
	}
	insertTestManifest(t, store, "m1", "billing", testTime, reqs)
	assert.NoError(t, store.CreateState(context.Background(), "production", testTime))
	assert.NoError(t, store.SetManifestState(context.Background(), "m1", "production", testTime))

	deletedAt := testTime.Add(time.Hour)
	err := store.MarkManifestDeleted(context.Background(), "m1", deletedAt)
	assert.NoError(t, err)

	got, err := store.GetManifest(context.Background(), "m1")
	assert.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(deletedAt))

	stored, err := store.ManifestRequirements(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Len(t, stored, 0)

	states, err := store.ManifestStates(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Len(t, states, 0)

	proj, err := store.GetProject(context.Background(), "billing")
	assert.NoError(t, err)
	assert.Equal(t, "", proj.LatestManifestID)
	assert.Equal(t, 0, proj.ManifestCount)

	list, err := store.ListManifests(context.Background(), "billing", "")
	assert.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestReviveManifest(t *testing.T) {
	_, store := setupTestDB(t)

	reqs := []storage.Requirement{
		{Line: 1, Name: "flask", CanonicalName: "flask", Specifier: "==3.0.3"},
	}
	insertTestManifest(t, store, "m1", "billing", testTime, reqs)
	assert.NoError(t, store.MarkManifestDeleted(context.Background(), "m1", testTime.Add(time.Hour)))

	revivedAt := testTime.Add(2 * time.Hour)
	err := store.ReviveManifest(context.Background(), "m1", revivedAt, reqs)
	assert.NoError(t, err)

	got, err := store.GetManifest(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.True(t, got.CreatedAt.Equal(revivedAt))

	stored, err := store.ManifestRequirements(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Len(t, stored, 1)

	proj, err := store.GetProject(context.Background(), "billing")
	assert.NoError(t, err)
	assert.Equal(t, "m1", proj.LatestManifestID)
	assert.Equal(t, 1, proj.ManifestCount)
}

func TestStates(t *testing.T) {
	_, store := setupTestDB(t)

	assert.NoError(t, store.CreateState(context.Background(), "production", testTime))
	assert.NoError(t, store.CreateState(context.Background(), "production", testTime))
	assert.NoError(t, store.CreateState(context.Background(), "staging", testTime))

	exists, err := store.StateExists(context.Background(), "production")
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.StateExists(context.Background(), "missing")
	assert.NoError(t, err)
	assert.False(t, exists)

	list, err := store.ListStates(context.Background())
	assert.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "production", list[0].Name)
	assert.Equal(t, "staging", list[1].Name)
}

func TestManifestStates(t *testing.T) {
	_, store := setupTestDB(t)

	insertTestManifest(t, store, "m1", "billing", testTime, nil)
	assert.NoError(t, store.CreateState(context.Background(), "production", testTime))
	assert.NoError(t, store.CreateState(context.Background(), "staging", testTime))

	assert.NoError(t, store.SetManifestState(context.Background(), "m1", "staging", testTime))
	assert.NoError(t, store.SetManifestState(context.Background(), "m1", "production", testTime))
	assert.NoError(t, store.SetManifestState(context.Background(), "m1", "production", testTime))

	states, err := store.ManifestStates(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"production", "staging"}, states)

	assert.NoError(t, store.UnsetManifestState(context.Background(), "m1", "staging"))

	states, err = store.ManifestStates(context.Background(), "m1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"production"}, states)
}

func TestUpsertPackagesAndGetMap(t *testing.T) {
	_, store := setupTestDB(t)

	pkgs := []storage.Package{
		{CanonicalName: "flask", Name: "Flask", LatestVersion: "3.0.3", Summary: "web framework", DependencyCount: 3, CheckedAt: testTime},
		{CanonicalName: "requests", Name: "requests", LatestVersion: "2.32.3", CheckedAt: testTime},
	}
	assert.NoError(t, store.UpsertPackages(context.Background(), pkgs))

	m, err := store.GetPackagesMap(context.Background(), []string{"flask", "missing"})
	assert.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Equal(t, "3.0.3", m["flask"].LatestVersion)
	assert.Equal(t, 3, m["flask"].DependencyCount)

	updated := []storage.Package{
		{CanonicalName: "flask", Name: "Flask", LatestVersion: "3.1.0", CheckedAt: testTime.Add(time.Hour)},
	}
	assert.NoError(t, store.UpsertPackages(context.Background(), updated))

	m, err = store.GetPackagesMap(context.Background(), []string{"flask"})
	assert.NoError(t, err)
	assert.Equal(t, "3.1.0", m["flask"].LatestVersion)

	empty, err := store.GetPackagesMap(context.Background(), nil)
	assert.NoError(t, err)
	assert.Len(t, empty, 0)
}

func TestReferencedPackages(t *testing.T) {
	_, store := setupTestDB(t)

	insertTestManifest(t, store, "m1", "billing", testTime, []storage.Requirement{
		{Line: 1, Name: "Flask", CanonicalName: "flask", Specifier: "==3.0.3"},
		{Line: 2, Name: "requests", CanonicalName: "requests", Specifier: "==2.32.3"},
	})
	insertTestManifest(t, store, "m2", "frontend", testTime, []storage.Requirement{
		{Line: 1, Name: "flask", CanonicalName: "flask", Specifier: "==3.0.0"},
		{Line: 2, Name: "numpy", CanonicalName: "numpy", Specifier: "==1.26.4"},
	})
	insertTestManifest(t, store, "m3", "legacy", testTime, []storage.Requirement{
		{Line: 1, Name: "django", CanonicalName: "django", Specifier: "==4.2"},
	})
	assert.NoError(t, store.MarkManifestDeleted(context.Background(), "m3", testTime.Add(time.Hour)))

	list, err := store.ReferencedPackages(context.Background())
	assert.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, "flask", list[0].CanonicalName)
	assert.Equal(t, "numpy", list[1].CanonicalName)
	assert.Equal(t, "requests", list[2].CanonicalName)
}

func TestListPackagesFiltered(t *testing.T) {
	_, store := setupTestDB(t)

	pkgs := []storage.Package{
		{CanonicalName: "flask", Name: "Flask", LatestVersion: "3.0.3", CheckedAt: testTime},
		{CanonicalName: "flask-login", Name: "Flask-Login", LatestVersion: "0.6.3", CheckedAt: testTime.Add(2 * time.Hour)},
		{CanonicalName: "numpy", Name: "numpy", LatestVersion: "1.26.4", CheckedAt: testTime},
	}
	assert.NoError(t, store.UpsertPackages(context.Background(), pkgs))

	t.Run("list all", func(t *testing.T) {
		list, err := store.ListPackagesFiltered(context.Background(), "", nil)
		assert.NoError(t, err)
		assert.Len(t, list, 3)
	})

	t.Run("filter by name", func(t *testing.T) {
		list, err := store.ListPackagesFiltered(context.Background(), "flask", nil)
		assert.NoError(t, err)
		assert.Len(t, list, 2)
		assert.Equal(t, "flask", list[0].CanonicalName)
	})

	t.Run("filter by checked_before", func(t *testing.T) {
		before := testTime.Add(time.Hour)
		list, err := store.ListPackagesFiltered(context.Background(), "", &before)
		assert.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("no match", func(t *testing.T) {
		before := testTime.Add(-time.Hour)
		list, err := store.ListPackagesFiltered(context.Background(), "nonexistent", &before)
		assert.NoError(t, err)
		assert.Len(t, list, 0)
	})
}
