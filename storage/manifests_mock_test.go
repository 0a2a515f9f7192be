package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"reqstore/storage"
)

func TestInsertManifestRollsBackOnManifestError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := &storage.Storage{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO manifests").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.InsertManifest(context.Background(), storage.Manifest{ID: "m1", Project: "billing"}, nil)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertManifestRollsBackOnRequirementError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := &storage.Storage{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO manifests").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare("INSERT INTO requirements").
		ExpectExec().
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	reqs := []storage.Requirement{{Line: 1, Name: "flask", CanonicalName: "flask"}}
	err = store.InsertManifest(context.Background(), storage.Manifest{ID: "m1", Project: "billing"}, reqs)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkManifestDeletedRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := &storage.Storage{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE manifests SET deleted_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM requirements").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err = store.MarkManifestDeleted(context.Background(), "m1", testTime)

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
