package driven

import (
	"context"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// Announcement is the last release announced to a subject for one repository.
type Announcement struct {
	TrackingID   int64
	RepositoryID int64
	ReleaseID    int64
}

// AnnouncementStore defines the driven port for remembering what each subject
// was last told about.
type AnnouncementStore interface {
	// ListByTracking returns the announcements of a subject keyed by repository ID.
	ListByTracking(ctx context.Context, trackingID int64) (map[int64]Announcement, error)
	// Record stores or replaces the announcement of (tracking, repository).
	Record(ctx context.Context, a Announcement) error
}

// ReleaseNotifier defines the driven port for delivering new releases to a consumer.
type ReleaseNotifier interface {
	Notify(ctx context.Context, t model.Tracking, release model.ReleaseView) error
}
