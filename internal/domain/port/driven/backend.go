package driven

import (
	"context"
	"slices"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// ReleaseWindow is the least number of entries a backend requests from its
// provider. Entries of kinds outside the allow list are dropped after the
// fetch, so a window of Limit alone could hide older allowed releases.
const ReleaseWindow = 5

// ReleaseQuery bounds a release listing.
type ReleaseQuery struct {
	Params model.TrackingParams
	Allow  []model.ReleaseKind
	Limit  int
}

// Window returns how many entries to request from the provider.
func (q ReleaseQuery) Window() int {
	return max(q.Limit, ReleaseWindow)
}

// Select keeps the newest entries of the allowed kinds, at most Limit (at
// least one), and returns them oldest first.
func (q ReleaseQuery) Select(found []model.DiscoveredRelease) []model.DiscoveredRelease {
	kept := make([]model.DiscoveredRelease, 0, len(found))
	for _, rel := range found {
		if model.KindAllowed(q.Allow, rel.Kind) {
			kept = append(kept, rel)
		}
	}

	slices.SortStableFunc(kept, func(a, b model.DiscoveredRelease) int {
		return a.PublishedAt.Compare(b.PublishedAt)
	})
	if limit := max(q.Limit, 1); len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}

// Backend defines the driven port for a release source (GitHub, GitLab, Gitea, plain git).
// Any method may return ErrNotImplemented for an unsupported capability and
// ErrNotFound for an unresolvable identifier. Other failures are *BackendError.
type Backend interface {
	// Name returns the backend identifier stored alongside tracking and repository rows.
	Name() string

	// ListGroupRepositories returns the repository identifiers of a group or organization.
	ListGroupRepositories(ctx context.Context, group string, params model.TrackingParams) ([]string, error)
	// ListUserRepositories returns the identifiers of a user's starred/favorited repositories.
	ListUserRepositories(ctx context.Context, user string, params model.TrackingParams) ([]string, error)
	// RepositoryInfo returns display metadata for one repository.
	RepositoryInfo(ctx context.Context, slug string, params model.TrackingParams) (*model.RepositoryInfo, error)
	// RepositoryReleases returns at most q.Limit releases of the allowed kinds,
	// ordered ascending by publish time.
	RepositoryReleases(ctx context.Context, slug string, q ReleaseQuery) ([]model.DiscoveredRelease, error)
}

// RepositoryValidator is implemented by backends that can cheaply check that
// a repository identifier is reachable before it is tracked.
type RepositoryValidator interface {
	ValidateRepository(ctx context.Context, slug string, params model.TrackingParams) error
}

// RateLimit is a snapshot of one API budget of a backend.
type RateLimit struct {
	Resource  string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitReporter is implemented by backends that expose their API budget.
type RateLimitReporter interface {
	RateLimits(ctx context.Context) ([]RateLimit, error)
}
