package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/metrics"
)

// LastReleases returns the newest release of every repository belonging to a
// subject, refreshing whatever is stale on the way. Repositories without a
// stored release are left out. Failures of single repositories are logged and
// skipped; only an unknown subject or backend and store failures are returned.
func (e *Engine) LastReleases(ctx context.Context, trackingID int64) ([]model.ReleaseView, error) {
	start := e.clock.Now()

	t, err := e.tracking.GetByID(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("load tracking %d: %w", trackingID, err)
	}
	if t == nil {
		return nil, fmt.Errorf("tracking %d: %w", trackingID, driven.ErrTrackingNotFound)
	}

	backend, err := e.backends.Get(t.Backend)
	if err != nil {
		return nil, err
	}

	members, err := e.members(ctx, *t)
	if err != nil {
		return nil, err
	}

	views, err := e.collect(ctx, backend, *t, members)
	if err != nil {
		return nil, err
	}

	e.recordRun(t.ID)
	metrics.FanoutDuration.Observe(e.clock.Since(start).Seconds())
	slog.Debug("last releases collected",
		"tracking_id", t.ID, "members", len(members), "releases", len(views))

	return views, nil
}

// members reconciles the subject and falls back to the stored membership when
// the backend listing fails.
func (e *Engine) members(ctx context.Context, t model.Tracking) ([]model.Repository, error) {
	res, err := e.Reconcile(ctx, t)
	if err == nil {
		return res.Members, nil
	}
	if isStoreError(err) {
		return nil, fmt.Errorf("reconcile tracking %d: %w", t.ID, err)
	}

	if errors.Is(err, driven.ErrNotImplemented) {
		slog.Info("membership listing not supported by backend", "tracking_id", t.ID, "backend", t.Backend, "kind", t.Kind)
	} else {
		slog.Warn("membership refresh failed, using stored membership", "tracking_id", t.ID, "error", err)
	}

	stored, err := e.tracking.ListMembers(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list members of tracking %d: %w", t.ID, err)
	}
	return stored, nil
}

// collect splits the members into at most Threads disjoint chunks, processes
// each chunk on its own goroutine and merges the partial results.
func (e *Engine) collect(ctx context.Context, backend driven.Backend, t model.Tracking, members []model.Repository) ([]model.ReleaseView, error) {
	if len(members) == 0 {
		return nil, nil
	}

	threads := min(e.cfg.Threads, len(members))
	perWorker := (len(members) + threads - 1) / threads

	g, gctx := errgroup.WithContext(ctx)
	var partials []map[string]model.ReleaseView

	for start := 0; start < len(members); start += perWorker {
		chunk := members[start:min(start+perWorker, len(members))]
		partial := make(map[string]model.ReleaseView, len(chunk))
		partials = append(partials, partial)

		g.Go(func() error {
			for _, m := range chunk {
				view, ok, err := e.processRepository(gctx, backend, t, m)
				if err != nil {
					return err
				}
				if ok {
					partial[m.Slug] = view
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect releases of tracking %d: %w", t.ID, err)
	}

	merged := make(map[string]model.ReleaseView, len(members))
	for _, partial := range partials {
		for slug, view := range partial {
			merged[slug] = view
		}
	}

	views := make([]model.ReleaseView, 0, len(merged))
	for _, view := range merged {
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Slug < views[j].Slug })

	return views, nil
}

// processRepository refreshes one member. Only store failures are returned;
// backend failures are logged and yield no result for the repository.
func (e *Engine) processRepository(ctx context.Context, backend driven.Backend, t model.Tracking, m model.Repository) (model.ReleaseView, bool, error) {
	repo, err := e.refreshRepository(ctx, backend, m.Slug, &m, t.Params)
	if err != nil {
		return model.ReleaseView{}, false, e.containRepositoryError(t, m.Slug, err)
	}

	rel, err := e.EnsureReleases(ctx, backend, repo, t.Params)
	if err != nil {
		return model.ReleaseView{}, false, e.containRepositoryError(t, m.Slug, err)
	}
	if rel == nil {
		return model.ReleaseView{}, false, nil
	}

	view := model.NewReleaseView(*repo, *rel)
	view.TrackingID = t.ID
	return view, true, nil
}

func (e *Engine) containRepositoryError(t model.Tracking, slug string, err error) error {
	if isStoreError(err) {
		return err
	}
	slog.Warn("repository refresh failed", "tracking_id", t.ID, "backend", t.Backend, "repo", slug, "error", err)
	return nil
}
