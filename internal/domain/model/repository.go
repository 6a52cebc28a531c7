package model

import (
	"strings"
	"time"
)

// RepositoryParams holds repository-level hints discovered while fetching.
type RepositoryParams struct {
	Allow []ReleaseKind `json:"allow,omitempty"`
}

// Repository is the cached metadata of one repository known to a backend,
// together with its metadata and release refresh clocks.
type Repository struct {
	ID                 int64
	Slug               string
	Backend            string
	Name               string
	Namespace          string
	URL                string
	AvatarURL          string
	LastMetadataUpdate *time.Time
	NextMetadataUpdate *time.Time
	LastUpdate         *time.Time
	NextUpdate         *time.Time
	Params             RepositoryParams
}

// EffectiveNamespace returns the stored namespace or, when none was recorded,
// the slug without its last path segment.
func (r Repository) EffectiveNamespace() string {
	if r.Namespace != "" {
		return r.Namespace
	}
	slug := r.Slug
	if i := strings.LastIndex(slug, ":"); i >= 0 && !strings.Contains(slug, "://") {
		slug = slug[i+1:]
	}
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		return slug[:i]
	}
	return ""
}

// RepositoryInfo is the metadata a backend reports for one repository.
type RepositoryInfo struct {
	Slug      string
	Name      string
	Namespace string
	URL       string
	AvatarURL string
	// Allow narrows the release kinds the repository can produce. It is
	// stored with the repository and applies when a subject sets no allow list.
	Allow []ReleaseKind
}
