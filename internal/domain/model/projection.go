package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

const (
	defaultNoteLines = 10
	defaultNoteChars = 512
	maxNoteChars     = 40000
	unlimitedLines   = 1000
	abbrevCommitLen  = 7
)

// ReleaseView is the output value for one repository of a tracked subject: the
// repository metadata joined with its newest stored release.
type ReleaseView struct {
	TrackingID   int64       `json:"tracking_id,omitempty"`
	RepositoryID int64       `json:"repository_id"`
	ReleaseID    int64       `json:"release_id"`
	Slug         string      `json:"slug"`
	Namespace    string      `json:"namespace,omitempty"`
	Name         string      `json:"name"`
	RepoURL      string      `json:"repo_url,omitempty"`
	AvatarURL    string      `json:"avatar_url,omitempty"`
	Version      string      `json:"version"`
	VersionName  string      `json:"version_name,omitempty"`
	CommitSHA    string      `json:"commit_sha,omitempty"`
	PublishedAt  time.Time   `json:"publish_date"`
	Notes        string      `json:"release_notes,omitempty"`
	ReleaseURL   string      `json:"release_url,omitempty"`
	Kind         ReleaseKind `json:"release_type"`
}

// NewReleaseView projects a stored repository and release into a view.
func NewReleaseView(repo Repository, rel Release) ReleaseView {
	v := ReleaseView{
		RepositoryID: repo.ID,
		ReleaseID:    rel.ID,
		Slug:         repo.Slug,
		Namespace:    repo.EffectiveNamespace(),
		Name:         repo.Name,
		RepoURL:      repo.URL,
		AvatarURL:    repo.AvatarURL,
		Version:      rel.Version,
		CommitSHA:    rel.CommitSHA,
		PublishedAt:  rel.PublishedAt,
		Notes:        rel.Notes,
		ReleaseURL:   rel.URL,
		Kind:         rel.Kind,
	}
	if rel.Name != rel.Version {
		v.VersionName = rel.Name
	}
	return v
}

// DisplayVersion returns the version name, falling back to the version.
func (v ReleaseView) DisplayVersion() string {
	if v.VersionName != "" {
		return v.VersionName
	}
	return v.Version
}

// FullName joins namespace and name with " / ", omitting an empty namespace.
func (v ReleaseView) FullName() string {
	if v.Namespace == "" {
		return v.Name
	}
	return v.Namespace + " / " + v.Name
}

// AbbrevCommit returns the first seven characters of the commit pointer.
func (v ReleaseView) AbbrevCommit() string {
	if len(v.CommitSHA) <= abbrevCommitLen {
		return v.CommitSHA
	}
	return v.CommitSHA[:abbrevCommitLen]
}

// String renders the short one-line form "namespace / name version".
func (v ReleaseView) String() string {
	return v.FullName() + " " + v.DisplayVersion()
}

// TrimmedNotes cuts the release notes to at most maxLines lines and maxChars
// characters. A negative limit means unlimited; maxChars never exceeds 40000.
func (v ReleaseView) TrimmedNotes(maxLines, maxChars int) string {
	if maxChars > maxNoteChars {
		maxChars = maxNoteChars
	}
	if maxLines < 0 && maxChars < 0 {
		return v.Notes
	}
	if v.Notes == "" {
		return ""
	}
	if maxChars < 0 {
		maxChars = maxNoteChars
	}
	if maxLines < 0 {
		maxLines = unlimitedLines
	}

	lines := strings.Split(v.Notes, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	out := []rune(strings.Join(lines, "\n"))
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return string(out)
}

// DefaultTrimmedNotes applies the default limits of 10 lines and 512 characters.
func (v ReleaseView) DefaultTrimmedNotes() string {
	return v.TrimmedNotes(defaultNoteLines, defaultNoteChars)
}

// StableHash returns a hex SHA-256 of the release content. Identifiers that
// only exist locally are left out so the hash survives a database rebuild.
func (v ReleaseView) StableHash() string {
	c := v
	c.TrackingID, c.RepositoryID, c.ReleaseID = 0, 0, 0
	data, err := json.Marshal(c)
	if err != nil {
		// Only unsupported types make Marshal fail; ReleaseView has none.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
