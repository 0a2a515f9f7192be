package index

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"reqstore/manifest"
	"reqstore/pypi"
	"reqstore/storage"
)

type Storage interface {
	ReferencedPackages(ctx context.Context) ([]storage.Package, error)
	GetPackagesMap(ctx context.Context, canonicalNames []string) (map[string]storage.Package, error)
	UpsertPackages(ctx context.Context, pkgs []storage.Package) error
}

type PackageIndex interface {
	GetPackage(ctx context.Context, name string) (*pypi.Package, error)
}

// Refresher keeps the cached package index metadata current.
type Refresher struct {
	Store         Storage
	Index         PackageIndex
	Log           *logrus.Logger
	MaxConcurrent int
}

// RefreshAll refreshes the metadata cache for every package referenced
// by a live manifest.
func (rf *Refresher) RefreshAll(ctx context.Context) error {
	pkgs, err := rf.Store.ReferencedPackages(ctx)
	if err != nil {
		rf.Log.WithError(err).Error("failed to list referenced packages")
		return err
	}
	return rf.RefreshPackages(ctx, pkgs)
}

// RefreshPackages fetches index metadata for pkgs and upserts the cache.
// Packages whose fetch fails are skipped so their checked_at stays old
// and a later run picks them up again.
func (rf *Refresher) RefreshPackages(ctx context.Context, pkgs []storage.Package) error {
	rf.Log.Infof("Refreshing index metadata for %d packages", len(pkgs))

	fetched := rf.fetchMetadata(ctx, pkgs)

	// Fetch existing records from DB
	var canonicals []string
	for _, pkg := range fetched {
		canonicals = append(canonicals, pkg.CanonicalName)
	}
	existingMap, err := rf.Store.GetPackagesMap(ctx, canonicals)
	if err != nil {
		rf.Log.WithError(err).Error("failed to get existing packages")
		return err
	}

	// Merge only non-empty fields from incoming
	var mergedPkgs []storage.Package
	for _, incoming := range fetched {
		existing, found := existingMap[incoming.CanonicalName]
		if !found {
			mergedPkgs = append(mergedPkgs, incoming)
			continue
		}

		merged := existing
		merged.CheckedAt = incoming.CheckedAt
		if incoming.Name != "" {
			merged.Name = incoming.Name
		}
		if incoming.LatestVersion != "" {
			merged.LatestVersion = incoming.LatestVersion
		}
		if incoming.Summary != "" {
			merged.Summary = incoming.Summary
		}
		if incoming.License != "" {
			merged.License = incoming.License
		}
		if incoming.HomePage != "" {
			merged.HomePage = incoming.HomePage
		}
		if incoming.DependencyCount != 0 {
			merged.DependencyCount = incoming.DependencyCount
		}

		mergedPkgs = append(mergedPkgs, merged)
	}

	// Upsert into DB
	if err := rf.Store.UpsertPackages(ctx, mergedPkgs); err != nil {
		rf.Log.WithError(err).Error("failed to upsert package metadata to database")
		return err
	}

	rf.Log.Infof("Successfully refreshed %d of %d packages", len(mergedPkgs), len(pkgs))
	return nil
}

func (rf *Refresher) fetchMetadata(ctx context.Context, pkgs []storage.Package) []storage.Package {
	maxConcurrent := rf.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	var (
		results []storage.Package
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, maxConcurrent)
	)

	for _, pkg := range pkgs {
		wg.Add(1)
		go func(pkg storage.Package) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			meta, err := rf.Index.GetPackage(ctx, pkg.Name)
			if err != nil {
				rf.Log.WithError(err).Warnf("failed to fetch index metadata for %s", pkg.Name)
				return
			}

			mu.Lock()
			results = append(results, storage.Package{
				CanonicalName:   manifest.CanonicalName(meta.Info.Name),
				Name:            meta.Info.Name,
				LatestVersion:   meta.Info.Version,
				Summary:         meta.Info.Summary,
				License:         meta.Info.License,
				HomePage:        meta.Info.HomePage,
				DependencyCount: len(meta.Info.RequiresDist),
				CheckedAt:       time.Now().UTC(),
			})
			mu.Unlock()
		}(pkg)
	}

	wg.Wait()
	return results
}
