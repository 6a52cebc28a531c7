package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AnnouncementStore = (*AnnouncementRepo)(nil)

// AnnouncementRepo is the SQLite implementation of the AnnouncementStore port
// interface, backed by the latest_releases table.
type AnnouncementRepo struct {
	db *DB
}

// NewAnnouncementRepo creates a new AnnouncementRepo backed by the given DB.
func NewAnnouncementRepo(db *DB) *AnnouncementRepo {
	return &AnnouncementRepo{db: db}
}

// ListByTracking returns the last announced release per repository of a subject.
func (r *AnnouncementRepo) ListByTracking(ctx context.Context, trackingID int64) (map[int64]driven.Announcement, error) {
	const query = `SELECT tracking_id, repositories_id, releases_id FROM latest_releases WHERE tracking_id = ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, trackingID)
	if err != nil {
		return nil, fmt.Errorf("list announcements of tracking %d: %w", trackingID, err)
	}
	defer rows.Close()

	out := make(map[int64]driven.Announcement)
	for rows.Next() {
		var a driven.Announcement
		if err := rows.Scan(&a.TrackingID, &a.RepositoryID, &a.ReleaseID); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out[a.RepositoryID] = a
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}

	return out, nil
}

// Record stores the announced release of (tracking, repository), replacing the previous one.
func (r *AnnouncementRepo) Record(ctx context.Context, a driven.Announcement) error {
	const query = `
		INSERT INTO latest_releases (tracking_id, repositories_id, releases_id) VALUES (?, ?, ?)
		ON CONFLICT(tracking_id, repositories_id) DO UPDATE SET releases_id = excluded.releases_id
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, a.TrackingID, a.RepositoryID, a.ReleaseID); err != nil {
		return fmt.Errorf("record announcement for tracking %d repository %d: %w", a.TrackingID, a.RepositoryID, err)
	}

	return nil
}
