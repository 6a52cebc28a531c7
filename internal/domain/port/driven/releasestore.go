package driven

import (
	"context"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// ReleaseStore defines the driven port for release history.
type ReleaseStore interface {
	// Insert stores the discovered releases of a repository. Rows that already
	// exist for (repository, version) are resolved by policy and never duplicated.
	// Returns the number of rows newly inserted.
	Insert(ctx context.Context, repositoryID int64, releases []model.DiscoveredRelease, policy model.ConflictPolicy) (int, error)
	// Latest returns the newest release by publish time, or nil, nil when none is stored.
	Latest(ctx context.Context, repositoryID int64) (*model.Release, error)
	// ListByRepository returns the stored releases newest first, at most limit rows.
	ListByRepository(ctx context.Context, repositoryID int64, limit int) ([]model.Release, error)
}
