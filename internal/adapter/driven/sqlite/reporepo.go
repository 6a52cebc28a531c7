package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepositoryStore = (*RepositoryRepo)(nil)

const repositoryColumns = `id, slug, backend, name, namespace, url, avatar,
	last_metadata_update, next_metadata_update, last_update, next_update, extradata`

// RepositoryRepo is the SQLite implementation of the RepositoryStore port interface.
type RepositoryRepo struct {
	db *DB
}

// NewRepositoryRepo creates a new RepositoryRepo backed by the given DB.
func NewRepositoryRepo(db *DB) *RepositoryRepo {
	return &RepositoryRepo{db: db}
}

// GetBySlug retrieves a cached repository. Returns nil, nil if it is not cached.
func (r *RepositoryRepo) GetBySlug(ctx context.Context, backend, slug string) (*model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE backend = ? AND slug = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, backend, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", backend, slug, err)
	}

	return repo, nil
}

// GetByID retrieves a cached repository by ID. Returns nil, nil if it does not exist.
func (r *RepositoryRepo) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}

	return repo, nil
}

// UpsertMetadata inserts a repository or refreshes its display metadata and
// metadata clock. Concurrent upserts of the same slug resolve last-writer-wins.
func (r *RepositoryRepo) UpsertMetadata(ctx context.Context, backend string, info model.RepositoryInfo, last, next time.Time) (*model.Repository, error) {
	const query = `
		INSERT INTO repositories (slug, backend, name, namespace, url, avatar, last_metadata_update, next_metadata_update, extradata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug, backend) DO UPDATE SET
			name = excluded.name,
			namespace = excluded.namespace,
			url = excluded.url,
			avatar = excluded.avatar,
			last_metadata_update = excluded.last_metadata_update,
			next_metadata_update = excluded.next_metadata_update,
			extradata = excluded.extradata
	`

	var namespace any
	if info.Namespace != "" {
		namespace = info.Namespace
	}

	var extradata any
	if len(info.Allow) > 0 {
		encoded, err := json.Marshal(model.RepositoryParams{Allow: info.Allow})
		if err != nil {
			return nil, fmt.Errorf("encode extradata of %s/%s: %w", backend, info.Slug, err)
		}
		extradata = string(encoded)
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		info.Slug, backend, info.Name, namespace, info.URL, info.AvatarURL,
		formatTime(last), formatTime(next), extradata,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert repository %s/%s: %w", backend, info.Slug, err)
	}

	repo, err := scanRepository(r.db.Writer.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE backend = ? AND slug = ?`, backend, info.Slug))
	if err != nil {
		return nil, fmt.Errorf("reload repository %s/%s: %w", backend, info.Slug, err)
	}

	return repo, nil
}

// SetReleaseSchedule stores when releases were last fetched and when they are next due.
func (r *RepositoryRepo) SetReleaseSchedule(ctx context.Context, id int64, last, next time.Time) error {
	const query = `UPDATE repositories SET last_update = ?, next_update = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(last), formatTime(next), id)
	if err != nil {
		return fmt.Errorf("set release schedule for repository %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set release schedule for repository %d: %w", id, sql.ErrNoRows)
	}

	return nil
}

func scanRepository(s scanner) (*model.Repository, error) {
	var (
		repo                           model.Repository
		namespace, extradata           sql.NullString
		lastMeta, nextMeta, last, next sql.NullString
	)

	err := s.Scan(&repo.ID, &repo.Slug, &repo.Backend, &repo.Name, &namespace, &repo.URL, &repo.AvatarURL,
		&lastMeta, &nextMeta, &last, &next, &extradata)
	if err != nil {
		return nil, err
	}

	repo.Namespace = namespace.String

	if repo.LastMetadataUpdate, err = scanNullTime(lastMeta); err != nil {
		return nil, fmt.Errorf("parse last_metadata_update: %w", err)
	}
	if repo.NextMetadataUpdate, err = scanNullTime(nextMeta); err != nil {
		return nil, fmt.Errorf("parse next_metadata_update: %w", err)
	}
	if repo.LastUpdate, err = scanNullTime(last); err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}
	if repo.NextUpdate, err = scanNullTime(next); err != nil {
		return nil, fmt.Errorf("parse next_update: %w", err)
	}

	if extradata.Valid && extradata.String != "" {
		if err := json.Unmarshal([]byte(extradata.String), &repo.Params); err != nil {
			return nil, fmt.Errorf("decode extradata: %w", err)
		}
	}

	return &repo, nil
}
