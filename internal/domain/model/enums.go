package model

// SubjectKind discriminates the variants of a tracking subject.
type SubjectKind string

const (
	SubjectUser       SubjectKind = "user"       // A user's starred/favorited repositories.
	SubjectGroup      SubjectKind = "group"      // All repositories of a group or organization.
	SubjectRepository SubjectKind = "repository" // One repository.
)

// Valid reports whether k is one of the known subject kinds.
func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectUser, SubjectGroup, SubjectRepository:
		return true
	}
	return false
}

// Dynamic reports whether the membership of the subject is derived from a backend listing.
func (k SubjectKind) Dynamic() bool {
	return k == SubjectUser || k == SubjectGroup
}

// ReleaseKind classifies a discovered release event.
type ReleaseKind string

const (
	ReleaseKindRelease        ReleaseKind = "release"
	ReleaseKindPrerelease     ReleaseKind = "prerelease"
	ReleaseKindTag            ReleaseKind = "tag"             // Annotated tag.
	ReleaseKindLightweightTag ReleaseKind = "lightweight_tag" // Bare ref pointing at a commit.
)

// Valid reports whether k is one of the known release kinds.
func (k ReleaseKind) Valid() bool {
	switch k {
	case ReleaseKindRelease, ReleaseKindPrerelease, ReleaseKindTag, ReleaseKindLightweightTag:
		return true
	}
	return false
}

// DefaultAllowedKinds returns the release kinds reported when nothing narrows them.
func DefaultAllowedKinds() []ReleaseKind {
	return []ReleaseKind{ReleaseKindRelease, ReleaseKindTag, ReleaseKindLightweightTag}
}

// KindAllowed reports whether kind is part of allow. An empty allow list means
// DefaultAllowedKinds.
func KindAllowed(allow []ReleaseKind, kind ReleaseKind) bool {
	if len(allow) == 0 {
		allow = DefaultAllowedKinds()
	}
	for _, k := range allow {
		if k == kind {
			return true
		}
	}
	return false
}

// ConflictPolicy decides what happens when a release with an already stored
// (repository, version) pair is discovered again.
type ConflictPolicy string

const (
	ConflictIgnore ConflictPolicy = "ignore" // Keep the stored row untouched.
	ConflictUpdate ConflictPolicy = "update" // Refresh the mutable columns of the stored row.
)

// Valid reports whether p is a known conflict policy.
func (p ConflictPolicy) Valid() bool {
	return p == ConflictIgnore || p == ConflictUpdate
}
