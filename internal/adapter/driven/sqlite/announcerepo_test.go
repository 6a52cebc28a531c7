package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

func TestAnnouncementRepo_RecordReplaces(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAnnouncementRepo(db)
	ctx := context.Background()

	tr := seedTracking(t, db, "alice", model.SubjectUser)
	r := seedRepository(t, db, "github", "org/a")

	releases := NewReleaseRepo(db)
	_, err := releases.Insert(ctx, r.ID, []model.DiscoveredRelease{
		makeRelease("v1", testNow.Add(-1), model.ReleaseKindRelease),
		makeRelease("v2", testNow, model.ReleaseKindRelease),
	}, model.ConflictIgnore)
	require.NoError(t, err)
	all, err := releases.ListByRepository(ctx, r.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, repo.Record(ctx, driven.Announcement{TrackingID: tr.ID, RepositoryID: r.ID, ReleaseID: all[1].ID}))
	require.NoError(t, repo.Record(ctx, driven.Announcement{TrackingID: tr.ID, RepositoryID: r.ID, ReleaseID: all[0].ID}))

	got, err := repo.ListByTracking(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, all[0].ID, got[r.ID].ReleaseID)
}

func TestAnnouncementRepo_Empty(t *testing.T) {
	db := setupTestDB(t)

	got, err := NewAnnouncementRepo(db).ListByTracking(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}
