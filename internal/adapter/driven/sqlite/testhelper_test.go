package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// setupTestDB opens a named shared in-memory database for one test. Writer and
// reader share it via cache=shared; the test name keeps parallel tests apart.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// The escaped name cannot be read as query parameters of the DSN.
	safeName := url.PathEscape(t.Name())
	// WAL does not apply to in-memory databases.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		safeName,
	)

	open := func(maxConns int) *sql.DB {
		conn, err := sql.Open("sqlite", dsn)
		require.NoError(t, err, "open test db")
		conn.SetMaxOpenConns(maxConns)
		require.NoError(t, conn.PingContext(context.Background()), "ping test db")
		return conn
	}

	db := &DB{Writer: open(1), Reader: open(4), path: dsn}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer), "run migrations")

	return db
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func seedRepository(t *testing.T, db *DB, backend, slug string) *model.Repository {
	t.Helper()

	repo, err := NewRepositoryRepo(db).UpsertMetadata(context.Background(), backend, model.RepositoryInfo{
		Slug: slug,
		Name: slug,
		URL:  "https://example.com/" + slug,
	}, testNow, testNow.Add(48*time.Hour))
	require.NoError(t, err)

	return repo
}

func seedTracking(t *testing.T, db *DB, object string, kind model.SubjectKind) model.Tracking {
	t.Helper()

	tr, err := NewTrackingRepo(db).Add(context.Background(), model.Tracking{
		Object:  object,
		Backend: "github",
		Kind:    kind,
		RoomID:  "!room:example.com",
	})
	require.NoError(t, err)

	return tr
}
