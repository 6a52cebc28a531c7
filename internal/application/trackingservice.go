package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// TrackingService manages which subjects a consumer watches. Requests are
// validated before any backend or store call.
type TrackingService struct {
	backends *BackendRegistry
	store    driven.TrackingStore
}

// NewTrackingService creates a new TrackingService with the required dependencies.
func NewTrackingService(backends *BackendRegistry, store driven.TrackingStore) *TrackingService {
	return &TrackingService{backends: backends, store: store}
}

// IsTracking reports whether the subject identified by key is tracked.
func (s *TrackingService) IsTracking(ctx context.Context, key model.TrackingKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	t, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("look up tracking %s/%s: %w", key.Backend, key.Object, err)
	}
	return t != nil, nil
}

// AddURI parses a tracking URI (see model.ParseTrackingURI) and tracks it for roomID.
func (s *TrackingService) AddURI(ctx context.Context, roomID, uri string) (model.Tracking, error) {
	req, err := model.ParseTrackingURI(uri)
	if err != nil {
		return model.Tracking{}, err
	}
	return s.Add(ctx, roomID, req)
}

// Add starts tracking a subject for roomID. It fails with ErrTrackingExists
// when the same subject is already tracked for the room. The membership clock
// starts out absent, so the first LastReleases call reconciles immediately.
func (s *TrackingService) Add(ctx context.Context, roomID string, req model.TrackingRequest) (model.Tracking, error) {
	key := req.Key(roomID)
	if err := key.Validate(); err != nil {
		return model.Tracking{}, err
	}
	if err := req.Params.Validate(); err != nil {
		return model.Tracking{}, err
	}

	backend, err := s.backends.Get(req.Backend)
	if err != nil {
		return model.Tracking{}, err
	}

	if req.Kind == model.SubjectRepository {
		if v, ok := backend.(driven.RepositoryValidator); ok {
			if err := v.ValidateRepository(ctx, req.Object, req.Params); err != nil {
				return model.Tracking{}, &driven.DiscoveryError{Backend: req.Backend, Identifier: req.Object, Err: err}
			}
		}
	}

	t, err := s.store.Add(ctx, model.Tracking{
		Object:  req.Object,
		Backend: req.Backend,
		Kind:    req.Kind,
		RoomID:  roomID,
		Params:  req.Params,
	})
	if err != nil {
		if errors.Is(err, driven.ErrTrackingExists) {
			return model.Tracking{}, err
		}
		return model.Tracking{}, fmt.Errorf("add tracking %s/%s: %w", req.Backend, req.Object, err)
	}

	slog.Info("tracking added",
		"tracking_id", t.ID, "backend", t.Backend, "kind", t.Kind, "object", t.Object, "room_id", t.RoomID)

	return t, nil
}

// Update applies upd to a tracked subject. Changing the object drops the old
// membership and resets the membership clock, so the next refresh reconciles
// against the new subject and never serves the old one's repositories.
func (s *TrackingService) Update(ctx context.Context, id int64, upd model.TrackingUpdate) (model.Tracking, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return model.Tracking{}, err
	}

	if upd.Object != nil && *upd.Object != t.Object {
		t.Object = *upd.Object
		t.NextUpdate = nil
	}
	if upd.Params != nil {
		t.Params = t.Params.Apply(*upd.Params)
	}

	if err := t.Key().Validate(); err != nil {
		return model.Tracking{}, err
	}
	if err := t.Params.Validate(); err != nil {
		return model.Tracking{}, err
	}

	if err := s.store.Update(ctx, t); err != nil {
		return model.Tracking{}, fmt.Errorf("update tracking %d: %w", id, err)
	}

	slog.Info("tracking updated", "tracking_id", t.ID, "object", t.Object)
	return t, nil
}

// Remove stops tracking a subject. Its membership links and announcement
// state go with it; cached repositories and releases stay.
func (s *TrackingService) Remove(ctx context.Context, id int64) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove tracking %d: %w", id, err)
	}

	slog.Info("tracking removed", "tracking_id", id)
	return nil
}

// Get returns one tracked subject or ErrTrackingNotFound.
func (s *TrackingService) Get(ctx context.Context, id int64) (model.Tracking, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Tracking{}, fmt.Errorf("get tracking %d: %w", id, err)
	}
	if t == nil {
		return model.Tracking{}, fmt.Errorf("tracking %d: %w", id, driven.ErrTrackingNotFound)
	}
	return *t, nil
}

// List returns every tracked subject.
func (s *TrackingService) List(ctx context.Context) ([]model.Tracking, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracking: %w", err)
	}
	return all, nil
}
