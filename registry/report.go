package registry

import (
	"context"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"reqstore/manifest"
	"reqstore/storage"
)

// DiffRevisions compares the requirement sets of two revisions of the
// same project.
func (r *Registry) DiffRevisions(ctx context.Context, project, fromID, toID string) (*manifest.Changes, error) {
	from, err := r.getLive(ctx, project, fromID)
	if err != nil {
		return nil, err
	}
	to, err := r.getLive(ctx, project, toID)
	if err != nil {
		return nil, err
	}

	fromRows, err := r.Store.ManifestRequirements(ctx, from.ID)
	if err != nil {
		return nil, err
	}
	toRows, err := r.Store.ManifestRequirements(ctx, to.ID)
	if err != nil {
		return nil, err
	}

	ch := manifest.Diff(rowsToRequirements(fromRows), rowsToRequirements(toRows))
	return &ch, nil
}

// OutdatedPin is an exact pin that lags behind the package index.
type OutdatedPin struct {
	Name    string `json:"name"`
	Pinned  string `json:"pinned"`
	Latest  string `json:"latest"`
	Summary string `json:"summary,omitempty"`
}

// OutdatedReport compares a revision's pins against the cached package
// index metadata. Unpinned lists requirements without an exact pin,
// Unknown lists packages the index cache has no version for.
type OutdatedReport struct {
	ManifestID string        `json:"manifest_id"`
	Outdated   []OutdatedPin `json:"outdated"`
	Unpinned   []string      `json:"unpinned,omitempty"`
	Unknown    []string      `json:"unknown,omitempty"`
}

// Outdated reports which pins of a revision lag behind the package
// index cache.
func (r *Registry) Outdated(ctx context.Context, project, id string) (*OutdatedReport, error) {
	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.Store.ManifestRequirements(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	var canonicals []string
	for _, row := range rows {
		canonicals = append(canonicals, row.CanonicalName)
	}
	pkgs, err := r.Store.GetPackagesMap(ctx, canonicals)
	if err != nil {
		return nil, err
	}

	report := &OutdatedReport{ManifestID: m.ID, Outdated: []OutdatedPin{}}
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.CanonicalName] {
			continue
		}
		seen[row.CanonicalName] = true

		req := rowToRequirement(row)
		pinned, ok := req.Pinned()
		if !ok {
			report.Unpinned = append(report.Unpinned, row.Name)
			continue
		}

		pkg, ok := pkgs[row.CanonicalName]
		if !ok || pkg.LatestVersion == "" {
			report.Unknown = append(report.Unknown, row.Name)
			continue
		}

		pinnedV, err := pep440.Parse(pinned)
		if err != nil {
			report.Unknown = append(report.Unknown, row.Name)
			continue
		}
		latestV, err := pep440.Parse(pkg.LatestVersion)
		if err != nil {
			report.Unknown = append(report.Unknown, row.Name)
			continue
		}

		if pinnedV.LessThan(latestV) {
			report.Outdated = append(report.Outdated, OutdatedPin{
				Name:    row.Name,
				Pinned:  pinned,
				Latest:  pkg.LatestVersion,
				Summary: pkg.Summary,
			})
		}
	}

	return report, nil
}

func rowsToRequirements(rows []storage.Requirement) []manifest.Requirement {
	reqs := make([]manifest.Requirement, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, rowToRequirement(row))
	}
	return reqs
}

func rowToRequirement(row storage.Requirement) manifest.Requirement {
	req := manifest.Requirement{
		Name:    row.Name,
		Marker:  row.Marker,
		Comment: row.Comment,
		Section: row.Section,
		Line:    row.Line,
	}
	if row.Extras != "" {
		req.Extras = strings.Split(row.Extras, ",")
	}
	if row.Specifier != "" {
		if spec, err := manifest.ParseSpecifier(row.Specifier); err == nil {
			req.Specifier = spec
		}
	}
	return req
}
