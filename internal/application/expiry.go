package application

import (
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// TTL classes. The effective delay is staggered by up to ±25%.
const (
	// RepositoryMetadataTTL schedules repository name/namespace/URL/avatar refreshes.
	RepositoryMetadataTTL = 2 * 24 * time.Hour
	// MembershipTTL schedules star and group listing refreshes.
	MembershipTTL = 24 * time.Hour
	// ReleaseTTL applies once a formal release has been found.
	ReleaseTTL = time.Hour
	// TagReleaseTTL applies when only tag-level releases were found.
	TagReleaseTTL = 2 * time.Hour
	// NilReleaseTTL applies when nothing was found, so dormant projects are polled less.
	NilReleaseTTL = 24 * time.Hour
)

// IsDue reports whether a clock with the given next-due timestamp has expired.
// An absent timestamp is always due.
func IsDue(next *time.Time, now time.Time) bool {
	return next == nil || next.Before(now)
}

// stagger returns ttl adjusted by (r - 0.5) * ttl * 0.5, where r is drawn from
// [0, 1). The result lies within [0.75*ttl, 1.25*ttl].
func stagger(ttl time.Duration, r float64) time.Duration {
	return ttl + time.Duration((r-0.5)*float64(ttl)*0.5)
}

// releaseTTL picks the release clock class from what a fetch found: nothing
// yields NilReleaseTTL, tags or prereleases TagReleaseTTL, and a formal release
// ReleaseTTL.
func releaseTTL(found []model.DiscoveredRelease) time.Duration {
	ttl := NilReleaseTTL
	for _, rel := range found {
		if rel.Kind == model.ReleaseKindRelease {
			return ReleaseTTL
		}
		ttl = TagReleaseTTL
	}
	return ttl
}
