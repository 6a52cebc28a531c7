package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// RepositoryStore defines the driven port for the repository metadata cache.
// Lookups return nil, nil when the repository is not cached.
type RepositoryStore interface {
	GetBySlug(ctx context.Context, backend, slug string) (*model.Repository, error)
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
	// UpsertMetadata inserts the repository or updates its display metadata and
	// metadata clock. Release clocks are left untouched.
	UpsertMetadata(ctx context.Context, backend string, info model.RepositoryInfo, last, next time.Time) (*model.Repository, error)
	// SetReleaseSchedule stores the release clock of a repository.
	SetReleaseSchedule(ctx context.Context, id int64, last, next time.Time) error
}
