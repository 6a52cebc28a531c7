// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/metrics"
)

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	trackingID int64
	done       chan error
}

// PollOption customizes a PollService.
type PollOption func(*PollService)

// WithPollClock replaces the wall clock driving the poll ticker.
func WithPollClock(c clockwork.Clock) PollOption {
	return func(s *PollService) { s.clock = c }
}

// PollService periodically collects the last releases of every tracked
// subject and announces releases that changed since the previous cycle.
type PollService struct {
	engine        *Engine
	tracking      driven.TrackingStore
	announcements driven.AnnouncementStore
	notifier      driven.ReleaseNotifier
	interval      time.Duration
	clock         clockwork.Clock
	refreshCh     chan refreshRequest
}

// NewPollService creates a new PollService with all required dependencies.
func NewPollService(
	engine *Engine,
	tracking driven.TrackingStore,
	announcements driven.AnnouncementStore,
	notifier driven.ReleaseNotifier,
	interval time.Duration,
	opts ...PollOption,
) *PollService {
	s := &PollService{
		engine:        engine,
		tracking:      tracking,
		announcements: announcements,
		notifier:      notifier,
		interval:      interval,
		clock:         clockwork.NewRealClock(),
		refreshCh:     make(chan refreshRequest),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the polling loop. It runs an immediate poll, then polls on the
// configured interval. It also listens for manual refresh requests. Start blocks
// until the context is canceled.
func (s *PollService) Start(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		slog.Error("initial poll failed", "error", err)
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-ticker.Chan():
			if err := s.RunOnce(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
			}
		case req := <-s.refreshCh:
			req.done <- s.handleRefresh(ctx, req)
		}
	}
}

// RefreshTracking triggers a poll of one subject, bypassing the polling
// interval. Entity TTLs still apply. It blocks until the refresh completes or
// the context is canceled.
func (s *PollService) RefreshTracking(ctx context.Context, trackingID int64) error {
	done := make(chan error, 1)
	req := refreshRequest{
		trackingID: trackingID,
		done:       done,
	}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce polls every tracked subject once. Failures of single subjects are
// logged and counted; only a failure to list the subjects is returned.
func (s *PollService) RunOnce(ctx context.Context) error {
	start := s.clock.Now()

	all, err := s.tracking.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list tracking: %w", err)
	}
	metrics.TrackedSubjects.Set(float64(len(all)))

	var pollErrors, announced int
	for _, t := range all {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := s.pollTracking(ctx, t)
		if err != nil {
			slog.Error("tracking poll failed", "tracking_id", t.ID, "backend", t.Backend, "object", t.Object, "error", err)
			pollErrors++
			continue
		}
		announced += n
	}

	slog.Info("poll cycle complete",
		"subjects", len(all),
		"announced", announced,
		"errors", pollErrors,
		"duration", s.clock.Since(start).Round(time.Millisecond),
	)

	return nil
}

// pollTracking collects the last releases of one subject and announces the
// ones whose release differs from the last recorded announcement. The first
// release seen for a repository is recorded without announcing it.
func (s *PollService) pollTracking(ctx context.Context, t model.Tracking) (int, error) {
	views, err := s.engine.LastReleases(ctx, t.ID)
	if err != nil {
		return 0, err
	}

	previous, err := s.announcements.ListByTracking(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("list announcements: %w", err)
	}

	var announced, silent int
	for _, view := range views {
		prev, seen := previous[view.RepositoryID]
		if seen && prev.ReleaseID == view.ReleaseID {
			continue
		}

		if seen {
			if err := s.notifier.Notify(ctx, t, view); err != nil {
				// Not recorded, so the next cycle retries.
				metrics.AnnouncementsTotal.WithLabelValues("error").Inc()
				slog.Error("release notification failed",
					"tracking_id", t.ID, "repo", view.Slug, "version", view.Version, "error", err)
				continue
			}
			metrics.AnnouncementsTotal.WithLabelValues("announced").Inc()
			announced++
		} else {
			metrics.AnnouncementsTotal.WithLabelValues("silent").Inc()
			silent++
		}

		err := s.announcements.Record(ctx, driven.Announcement{
			TrackingID:   t.ID,
			RepositoryID: view.RepositoryID,
			ReleaseID:    view.ReleaseID,
		})
		if err != nil {
			return announced, fmt.Errorf("record announcement of %s: %w", view.Slug, err)
		}
	}

	slog.Debug("tracking polled",
		"tracking_id", t.ID,
		"releases", len(views),
		"announced", announced,
		"first_seen", silent,
	)

	return announced, nil
}

// handleRefresh dispatches a manual refresh request.
func (s *PollService) handleRefresh(ctx context.Context, req refreshRequest) error {
	if req.trackingID == 0 {
		return s.RunOnce(ctx)
	}

	t, err := s.tracking.GetByID(ctx, req.trackingID)
	if err != nil {
		return fmt.Errorf("load tracking %d: %w", req.trackingID, err)
	}
	if t == nil {
		return fmt.Errorf("tracking %d: %w", req.trackingID, driven.ErrTrackingNotFound)
	}

	_, err = s.pollTracking(ctx, *t)
	return err
}
