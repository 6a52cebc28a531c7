package model

import "time"

// Release is one stored release event of a repository, unique per
// (RepositoryID, Version).
type Release struct {
	ID           int64
	RepositoryID int64
	Version      string
	Name         string
	CommitSHA    string
	PublishedAt  time.Time
	Notes        string
	URL          string
	Kind         ReleaseKind
}

// DiscoveredRelease is a release event as reported by a backend, before it is
// attached to a stored repository.
type DiscoveredRelease struct {
	Version     string
	Name        string
	CommitSHA   string
	PublishedAt time.Time
	Notes       string
	URL         string
	Kind        ReleaseKind
}

// DisplayName returns the human name, falling back to the version and then the commit.
func (d DiscoveredRelease) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.Version != "":
		return d.Version
	}
	return d.CommitSHA
}
