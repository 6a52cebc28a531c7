package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReleaseStore = (*ReleaseRepo)(nil)

const releaseColumns = `id, repositories_id, version, name, commit_sha, publish_date, release_notes, url, type`

// ReleaseRepo is the SQLite implementation of the ReleaseStore port interface.
type ReleaseRepo struct {
	db *DB
}

// NewReleaseRepo creates a new ReleaseRepo backed by the given DB.
func NewReleaseRepo(db *DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

// Insert stores the releases of a repository in one transaction. The unique
// (version, repositories_id) constraint turns a rediscovered release into a
// no-op (ConflictIgnore) or a refresh of its mutable columns (ConflictUpdate).
func (r *ReleaseRepo) Insert(ctx context.Context, repositoryID int64, releases []model.DiscoveredRelease, policy model.ConflictPolicy) (int, error) {
	if len(releases) == 0 {
		return 0, nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const insertQuery = `
		INSERT INTO releases (version, repositories_id, name, commit_sha, publish_date, release_notes, url, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version, repositories_id) DO NOTHING
	`
	const updateQuery = `
		UPDATE releases SET name = ?, commit_sha = ?, publish_date = ?, release_notes = ?, url = ?, type = ?
		WHERE version = ? AND repositories_id = ?
	`

	inserted := 0
	for _, rel := range releases {
		var publishDate any
		if !rel.PublishedAt.IsZero() {
			publishDate = formatTime(rel.PublishedAt)
		}

		result, err := tx.ExecContext(ctx, insertQuery,
			rel.Version, repositoryID, rel.DisplayName(), rel.CommitSHA, publishDate, rel.Notes, rel.URL, string(rel.Kind),
		)
		if err != nil {
			return 0, fmt.Errorf("insert release %s for repository %d: %w", rel.Version, repositoryID, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("check rows affected: %w", err)
		}
		inserted += int(n)

		if n == 0 && policy == model.ConflictUpdate {
			if _, err := tx.ExecContext(ctx, updateQuery,
				rel.DisplayName(), rel.CommitSHA, publishDate, rel.Notes, rel.URL, string(rel.Kind),
				rel.Version, repositoryID,
			); err != nil {
				return 0, fmt.Errorf("update release %s for repository %d: %w", rel.Version, repositoryID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit releases for repository %d: %w", repositoryID, err)
	}

	return inserted, nil
}

// Latest returns the newest release of a repository by publish date.
// Returns nil, nil if the repository has no stored release.
func (r *ReleaseRepo) Latest(ctx context.Context, repositoryID int64) (*model.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE repositories_id = ?
		ORDER BY publish_date DESC, id DESC LIMIT 1`

	rel, err := scanRelease(r.db.Reader.QueryRowContext(ctx, query, repositoryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest release for repository %d: %w", repositoryID, err)
	}

	return rel, nil
}

// ListByRepository returns up to limit releases of a repository, newest first.
// A non-positive limit returns every release.
func (r *ReleaseRepo) ListByRepository(ctx context.Context, repositoryID int64, limit int) ([]model.Release, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + releaseColumns + ` FROM releases WHERE repositories_id = ?
		ORDER BY publish_date DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list releases for repository %d: %w", repositoryID, err)
	}
	defer rows.Close()

	var releases []model.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, *rel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	return releases, nil
}

func scanRelease(s scanner) (*model.Release, error) {
	var (
		rel         model.Release
		kind        string
		publishDate sql.NullString
	)

	err := s.Scan(&rel.ID, &rel.RepositoryID, &rel.Version, &rel.Name, &rel.CommitSHA,
		&publishDate, &rel.Notes, &rel.URL, &kind)
	if err != nil {
		return nil, err
	}

	rel.Kind = model.ReleaseKind(kind)

	published, err := scanNullTime(publishDate)
	if err != nil {
		return nil, fmt.Errorf("parse publish_date: %w", err)
	}
	if published != nil {
		rel.PublishedAt = *published
	}

	return &rel, nil
}
