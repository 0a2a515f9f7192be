package storage

import "time"

type Project struct {
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	LatestManifestID string    `json:"latest_manifest_id,omitempty"`
	ManifestCount    int       `json:"manifest_count"`
}

type Manifest struct {
	ID               string     `json:"id"`
	Project          string     `json:"project"`
	Filename         string     `json:"filename"`
	Format           string     `json:"format"`
	ContentHash      string     `json:"content_hash"`
	BlobKey          string     `json:"-"`
	RequirementCount int        `json:"requirement_count"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

type Requirement struct {
	ManifestID    string `json:"-"`
	Line          int    `json:"line"`
	Name          string `json:"name"`
	CanonicalName string `json:"canonical_name"`
	Extras        string `json:"extras,omitempty"`
	Specifier     string `json:"specifier,omitempty"`
	Marker        string `json:"marker,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Section       string `json:"section,omitempty"`
}

type State struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Package struct {
	CanonicalName   string    `json:"canonical_name"`
	Name            string    `json:"name"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	License         string    `json:"license,omitempty"`
	HomePage        string    `json:"home_page,omitempty"`
	DependencyCount int       `json:"dependency_count,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}
