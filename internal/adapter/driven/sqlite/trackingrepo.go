package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TrackingStore = (*TrackingRepo)(nil)

const trackingColumns = `id, object, backend, type, room_id, last_update, next_update, extradata`

// TrackingRepo is the SQLite implementation of the TrackingStore port interface.
type TrackingRepo struct {
	db *DB
}

// NewTrackingRepo creates a new TrackingRepo backed by the given DB.
func NewTrackingRepo(db *DB) *TrackingRepo {
	return &TrackingRepo{db: db}
}

// Add inserts a new tracking subject and returns it with its assigned ID.
// Returns ErrTrackingExists if the (object, backend, type, room_id) key is taken.
func (r *TrackingRepo) Add(ctx context.Context, t model.Tracking) (model.Tracking, error) {
	const query = `
		INSERT INTO tracking (object, backend, type, room_id, last_update, next_update, extradata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	extradata, err := encodeParams(t.Params)
	if err != nil {
		return model.Tracking{}, err
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		t.Object, t.Backend, string(t.Kind), t.RoomID, nullTime(t.LastUpdate), nullTime(t.NextUpdate), extradata,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return model.Tracking{}, fmt.Errorf("add tracking %s:%s: %w", t.Backend, t.Object, driven.ErrTrackingExists)
		}
		return model.Tracking{}, fmt.Errorf("add tracking %s:%s: %w", t.Backend, t.Object, err)
	}

	t.ID, err = result.LastInsertId()
	if err != nil {
		return model.Tracking{}, fmt.Errorf("get tracking id: %w", err)
	}

	return t, nil
}

// Update replaces the object, parameters and clock of an existing subject.
// When the object changes, the membership of the old object is unlinked in
// the same transaction.
func (r *TrackingRepo) Update(ctx context.Context, t model.Tracking) error {
	extradata, err := encodeParams(t.Params)
	if err != nil {
		return err
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const unlinkQuery = `
		DELETE FROM tracked_repositories
		WHERE tracking_id = ? AND EXISTS (SELECT 1 FROM tracking WHERE id = ? AND object <> ?)
	`
	if _, err := tx.ExecContext(ctx, unlinkQuery, t.ID, t.ID, t.Object); err != nil {
		return fmt.Errorf("unlink members of tracking %d: %w", t.ID, err)
	}

	const query = `
		UPDATE tracking SET object = ?, extradata = ?, last_update = ?, next_update = ?
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query,
		t.Object, extradata, nullTime(t.LastUpdate), nullTime(t.NextUpdate), t.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("update tracking %d: %w", t.ID, driven.ErrTrackingExists)
		}
		return fmt.Errorf("update tracking %d: %w", t.ID, err)
	}
	if err := expectRow(result, "update tracking", t.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tracking %d: %w", t.ID, err)
	}
	return nil
}

// Remove deletes a tracking subject. Its membership links and announcements
// cascade; cached repositories and releases are retained.
func (r *TrackingRepo) Remove(ctx context.Context, id int64) error {
	const query = `DELETE FROM tracking WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("remove tracking %d: %w", id, err)
	}

	return expectRow(result, "remove tracking", id)
}

// GetByID retrieves a tracking subject. Returns nil, nil if it does not exist.
func (r *TrackingRepo) GetByID(ctx context.Context, id int64) (*model.Tracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking WHERE id = ?`

	t, err := scanTracking(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking %d: %w", id, err)
	}

	return t, nil
}

// GetByKey retrieves a tracking subject by its unique key. Returns nil, nil if it does not exist.
func (r *TrackingRepo) GetByKey(ctx context.Context, key model.TrackingKey) (*model.Tracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking
		WHERE object = ? AND backend = ? AND type = ? AND room_id = ?`

	t, err := scanTracking(r.db.Reader.QueryRowContext(ctx, query, key.Object, key.Backend, string(key.Kind), key.RoomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking %s:%s: %w", key.Backend, key.Object, err)
	}

	return t, nil
}

// ListAll returns all tracking subjects ordered by ID.
func (r *TrackingRepo) ListAll(ctx context.Context) ([]model.Tracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM tracking ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tracking: %w", err)
	}
	defer rows.Close()

	var all []model.Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracking: %w", err)
		}
		all = append(all, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracking: %w", err)
	}

	return all, nil
}

// ListMembers returns the repositories linked to a subject, ordered by slug.
func (r *TrackingRepo) ListMembers(ctx context.Context, trackingID int64) ([]model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories
		WHERE id IN (SELECT repositories_id FROM tracked_repositories WHERE tracking_id = ?)
		ORDER BY slug`

	rows, err := r.db.Reader.QueryContext(ctx, query, trackingID)
	if err != nil {
		return nil, fmt.Errorf("list members of tracking %d: %w", trackingID, err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return repos, nil
}

// ReconcileMembers links and unlinks repositories and advances the subject's
// clock in a single transaction, so readers never observe a half-applied change.
func (r *TrackingRepo) ReconcileMembers(ctx context.Context, trackingID int64, change driven.MembershipChange) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const insertQuery = `
		INSERT INTO tracked_repositories (tracking_id, repositories_id) VALUES (?, ?)
		ON CONFLICT(tracking_id, repositories_id) DO NOTHING
	`
	for _, id := range change.Add {
		if _, err := tx.ExecContext(ctx, insertQuery, trackingID, id); err != nil {
			return fmt.Errorf("link repository %d to tracking %d: %w", id, trackingID, err)
		}
	}

	const deleteQuery = `DELETE FROM tracked_repositories WHERE tracking_id = ? AND repositories_id = ?`
	for _, id := range change.Remove {
		if _, err := tx.ExecContext(ctx, deleteQuery, trackingID, id); err != nil {
			return fmt.Errorf("unlink repository %d from tracking %d: %w", id, trackingID, err)
		}
	}

	const clockQuery = `UPDATE tracking SET last_update = ?, next_update = ? WHERE id = ?`
	result, err := tx.ExecContext(ctx, clockQuery, formatTime(change.LastUpdate), formatTime(change.NextUpdate), trackingID)
	if err != nil {
		return fmt.Errorf("update clock of tracking %d: %w", trackingID, err)
	}
	if err := expectRow(result, "update clock of tracking", trackingID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit membership of tracking %d: %w", trackingID, err)
	}

	return nil
}

func expectRow(result sql.Result, op string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", op, id, driven.ErrTrackingNotFound)
	}
	return nil
}

func encodeParams(p model.TrackingParams) (any, error) {
	if p.Token == "" && len(p.Allow) == 0 && p.Instance == "" && p.Limit == 0 && !p.StrictSemver {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode tracking params: %w", err)
	}
	return string(data), nil
}

func scanTracking(s scanner) (*model.Tracking, error) {
	var (
		t          model.Tracking
		kind       string
		last, next sql.NullString
		extradata  sql.NullString
	)

	err := s.Scan(&t.ID, &t.Object, &t.Backend, &kind, &t.RoomID, &last, &next, &extradata)
	if err != nil {
		return nil, err
	}

	t.Kind = model.SubjectKind(kind)

	if t.LastUpdate, err = scanNullTime(last); err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}
	if t.NextUpdate, err = scanNullTime(next); err != nil {
		return nil, fmt.Errorf("parse next_update: %w", err)
	}

	if extradata.Valid && extradata.String != "" {
		if err := json.Unmarshal([]byte(extradata.String), &t.Params); err != nil {
			return nil, fmt.Errorf("decode extradata: %w", err)
		}
	}

	return &t, nil
}
