package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// MembershipChange is applied by TrackingStore.ReconcileMembers in one transaction.
type MembershipChange struct {
	Add        []int64 // Repository IDs to link; already linked IDs are ignored.
	Remove     []int64 // Repository IDs to unlink.
	LastUpdate time.Time
	NextUpdate time.Time
}

// TrackingStore defines the driven port for tracking subjects and their
// repository membership.
// Add returns ErrTrackingExists on a duplicate key; Update and Remove return
// ErrTrackingNotFound for unknown IDs. Update unlinks every member when the
// object changes. Lookups return nil, nil when nothing matches.
type TrackingStore interface {
	Add(ctx context.Context, t model.Tracking) (model.Tracking, error)
	Update(ctx context.Context, t model.Tracking) error
	Remove(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*model.Tracking, error)
	GetByKey(ctx context.Context, key model.TrackingKey) (*model.Tracking, error)
	ListAll(ctx context.Context) ([]model.Tracking, error)

	// ListMembers returns the repositories currently linked to the subject, ordered by slug.
	ListMembers(ctx context.Context, trackingID int64) ([]model.Repository, error)
	// ReconcileMembers applies the additions and removals and advances the
	// subject's clock atomically.
	ReconcileMembers(ctx context.Context, trackingID int64, change MembershipChange) error
}
