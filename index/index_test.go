package index_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqstore/index"
	"reqstore/pypi"
	"reqstore/storage"
)

type mockStorage struct {
	ReferencedPackagesFn func(ctx context.Context) ([]storage.Package, error)
	GetPackagesMapFn     func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error)
	UpsertPackagesFn     func(ctx context.Context, pkgs []storage.Package) error
}

func (m *mockStorage) ReferencedPackages(ctx context.Context) ([]storage.Package, error) {
	return m.ReferencedPackagesFn(ctx)
}

func (m *mockStorage) GetPackagesMap(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
	return m.GetPackagesMapFn(ctx, canonicalNames)
}

func (m *mockStorage) UpsertPackages(ctx context.Context, pkgs []storage.Package) error {
	return m.UpsertPackagesFn(ctx, pkgs)
}

type mockIndex struct {
	GetPackageFn func(ctx context.Context, name string) (*pypi.Package, error)
}

func (m *mockIndex) GetPackage(ctx context.Context, name string) (*pypi.Package, error) {
	return m.GetPackageFn(ctx, name)
}

func sortByCanonical(pkgs []storage.Package) {
	sort.Slice(pkgs, func(i, j int) bool {
		return pkgs[i].CanonicalName < pkgs[j].CanonicalName
	})
}

func TestRefreshPackages_Success(t *testing.T) {
	var upserted []storage.Package

	store := &mockStorage{
		GetPackagesMapFn: func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
			assert.Len(t, canonicalNames, 2)
			return map[string]storage.Package{}, nil
		},
		UpsertPackagesFn: func(ctx context.Context, pkgs []storage.Package) error {
			upserted = pkgs
			return nil
		},
	}

	api := &mockIndex{
		GetPackageFn: func(ctx context.Context, name string) (*pypi.Package, error) {
			switch name {
			case "Flask":
				return &pypi.Package{Info: pypi.Info{
					Name:         "Flask",
					Version:      "3.0.3",
					Summary:      "A simple framework for building complex web applications.",
					License:      "BSD-3-Clause",
					HomePage:     "https://flask.palletsprojects.com",
					RequiresDist: []string{"Werkzeug>=3.0.0", "Jinja2>=3.1.2", "click>=8.1.3"},
				}}, nil
			case "requests":
				return &pypi.Package{Info: pypi.Info{Name: "requests", Version: "2.32.3"}}, nil
			default:
				return nil, fmt.Errorf("unexpected package %s", name)
			}
		},
	}

	rf := &index.Refresher{Store: store, Index: api, Log: logrus.New(), MaxConcurrent: 5}

	err := rf.RefreshPackages(context.Background(), []storage.Package{
		{CanonicalName: "flask", Name: "Flask"},
		{CanonicalName: "requests", Name: "requests"},
	})
	require.NoError(t, err)

	require.Len(t, upserted, 2)
	sortByCanonical(upserted)

	assert.Equal(t, "flask", upserted[0].CanonicalName)
	assert.Equal(t, "Flask", upserted[0].Name)
	assert.Equal(t, "3.0.3", upserted[0].LatestVersion)
	assert.Equal(t, "BSD-3-Clause", upserted[0].License)
	assert.Equal(t, 3, upserted[0].DependencyCount)
	assert.WithinDuration(t, time.Now(), upserted[0].CheckedAt, time.Minute)

	assert.Equal(t, "requests", upserted[1].CanonicalName)
	assert.Equal(t, "2.32.3", upserted[1].LatestVersion)
}

func TestRefreshPackages_MergesExistingFields(t *testing.T) {
	var upserted []storage.Package
	oldChecked := time.Now().Add(-24 * time.Hour)

	store := &mockStorage{
		GetPackagesMapFn: func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
			return map[string]storage.Package{
				"flask": {
					CanonicalName:   "flask",
					Name:            "Flask",
					LatestVersion:   "3.0.2",
					License:         "BSD-3-Clause",
					HomePage:        "https://flask.palletsprojects.com",
					DependencyCount: 3,
					CheckedAt:       oldChecked,
				},
			}, nil
		},
		UpsertPackagesFn: func(ctx context.Context, pkgs []storage.Package) error {
			upserted = pkgs
			return nil
		},
	}

	// The index response carries a newer version but no license or home
	// page, so the stored values must survive the merge.
	api := &mockIndex{
		GetPackageFn: func(ctx context.Context, name string) (*pypi.Package, error) {
			return &pypi.Package{Info: pypi.Info{Name: "Flask", Version: "3.0.3"}}, nil
		},
	}

	rf := &index.Refresher{Store: store, Index: api, Log: logrus.New(), MaxConcurrent: 5}

	err := rf.RefreshPackages(context.Background(), []storage.Package{
		{CanonicalName: "flask", Name: "Flask"},
	})
	require.NoError(t, err)

	require.Len(t, upserted, 1)
	assert.Equal(t, "3.0.3", upserted[0].LatestVersion)
	assert.Equal(t, "BSD-3-Clause", upserted[0].License)
	assert.Equal(t, "https://flask.palletsprojects.com", upserted[0].HomePage)
	assert.Equal(t, 3, upserted[0].DependencyCount)
	assert.True(t, upserted[0].CheckedAt.After(oldChecked))
}

func TestRefreshPackages_SkipsFailedFetches(t *testing.T) {
	var upserted []storage.Package

	store := &mockStorage{
		GetPackagesMapFn: func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
			return map[string]storage.Package{}, nil
		},
		UpsertPackagesFn: func(ctx context.Context, pkgs []storage.Package) error {
			upserted = pkgs
			return nil
		},
	}

	api := &mockIndex{
		GetPackageFn: func(ctx context.Context, name string) (*pypi.Package, error) {
			if name == "gone" {
				return nil, errors.New("package metadata request failed for gone: 404 Not Found")
			}
			return &pypi.Package{Info: pypi.Info{Name: "requests", Version: "2.32.3"}}, nil
		},
	}

	rf := &index.Refresher{Store: store, Index: api, Log: logrus.New(), MaxConcurrent: 5}

	err := rf.RefreshPackages(context.Background(), []storage.Package{
		{CanonicalName: "gone", Name: "gone"},
		{CanonicalName: "requests", Name: "requests"},
	})
	require.NoError(t, err)

	require.Len(t, upserted, 1)
	assert.Equal(t, "requests", upserted[0].CanonicalName)
}

func TestRefreshPackages_GetMapError(t *testing.T) {
	store := &mockStorage{
		GetPackagesMapFn: func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
			return nil, errors.New("db is down")
		},
	}
	api := &mockIndex{
		GetPackageFn: func(ctx context.Context, name string) (*pypi.Package, error) {
			return &pypi.Package{Info: pypi.Info{Name: name, Version: "1.0"}}, nil
		},
	}

	rf := &index.Refresher{Store: store, Index: api, Log: logrus.New(), MaxConcurrent: 5}

	err := rf.RefreshPackages(context.Background(), []storage.Package{{CanonicalName: "flask", Name: "flask"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db is down")
}

func TestRefreshPackages_UpsertError(t *testing.T) {
	store := &mockStorage{
		GetPackagesMapFn: func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
			return map[string]storage.Package{}, nil
		},
		UpsertPackagesFn: func(ctx context.Context, pkgs []storage.Package) error {
			return errors.New("upsert failed")
		},
	}
	api := &mockIndex{
		GetPackageFn: func(ctx context.Context, name string) (*pypi.Package, error) {
			return &pypi.Package{Info: pypi.Info{Name: name, Version: "1.0"}}, nil
		},
	}

	rf := &index.Refresher{Store: store, Index: api, Log: logrus.New(), MaxConcurrent: 5}

	err := rf.RefreshPackages(context.Background(), []storage.Package{{CanonicalName: "flask", Name: "flask"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert failed")
}

func TestRefreshAll_Success(t *testing.T) {
	var upserted []storage.Package

	store := &mockStorage{
		ReferencedPackagesFn: func(ctx context.Context) ([]storage.Package, error) {
			return []storage.Package{{CanonicalName: "flask", Name: "Flask"}}, nil
		},
		GetPackagesMapFn: func(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error) {
			return map[string]storage.Package{}, nil
		},
		UpsertPackagesFn: func(ctx context.Context, pkgs []storage.Package) error {
			upserted = pkgs
			return nil
		},
	}
	api := &mockIndex{
		GetPackageFn: func(ctx context.Context, name string) (*pypi.Package, error) {
			return &pypi.Package{Info: pypi.Info{Name: "Flask", Version: "3.0.3"}}, nil
		},
	}

	rf := &index.Refresher{Store: store, Index: api, Log: logrus.New(), MaxConcurrent: 5}

	require.NoError(t, rf.RefreshAll(context.Background()))
	require.Len(t, upserted, 1)
	assert.Equal(t, "flask", upserted[0].CanonicalName)
}

func TestRefreshAll_ListError(t *testing.T) {
	store := &mockStorage{
		ReferencedPackagesFn: func(ctx context.Context) ([]storage.Package, error) {
			return nil, errors.New("query failed")
		},
	}

	rf := &index.Refresher{Store: store, Index: &mockIndex{}, Log: logrus.New(), MaxConcurrent: 5}

	err := rf.RefreshAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query failed")
}
