package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/metrics"
)

// EnsureRepository returns the cached metadata of a repository, fetching and
// upserting it first when it is missing or its metadata clock is due. It fails
// with *driven.DiscoveryError when the backend cannot resolve an uncached identifier.
func (e *Engine) EnsureRepository(ctx context.Context, backend driven.Backend, slug string, params model.TrackingParams) (*model.Repository, error) {
	cached, err := e.repos.GetBySlug(ctx, backend.Name(), slug)
	if err != nil {
		return nil, storeErr(err)
	}
	return e.refreshRepository(ctx, backend, slug, cached, params)
}

func (e *Engine) refreshRepository(ctx context.Context, backend driven.Backend, slug string, cached *model.Repository, params model.TrackingParams) (*model.Repository, error) {
	now := e.now()
	if cached != nil && !IsDue(cached.NextMetadataUpdate, now) {
		return cached, nil
	}

	slog.Debug("repository metadata due", "backend", backend.Name(), "repo", slug)

	fetchCtx, cancel := e.fetchContext(ctx)
	info, err := backend.RepositoryInfo(fetchCtx, slug, params)
	cancel()
	if err == nil && info == nil {
		err = driven.ErrNotFound
	}
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("metadata", "error").Inc()
		if cached != nil {
			slog.Warn("repository metadata refresh failed, keeping cached metadata",
				"backend", backend.Name(), "repo", slug, "error", err)
			return cached, nil
		}
		return nil, &driven.DiscoveryError{
			Backend:    backend.Name(),
			Identifier: slug,
			Err:        backendErr(backend.Name(), "repository info", err),
		}
	}

	// The requested identifier stays the cache key, so later lookups by the
	// same identifier hit even if the backend reports a canonical spelling.
	stored := *info
	stored.Slug = slug

	repo, err := e.repos.UpsertMetadata(ctx, backend.Name(), stored, now, e.nextDue(now, RepositoryMetadataTTL))
	if err != nil {
		return nil, storeErr(err)
	}

	metrics.RefreshTotal.WithLabelValues("metadata", "ok").Inc()
	return repo, nil
}

// EnsureReleases returns the newest stored release of a repository. When the
// repository's release clock is due it first fetches releases from the
// backend, stores them idempotently and reschedules the clock by outcome.
// A missing repository or an unsupported listing counts as zero releases;
// other backend failures are returned as *driven.BackendError and leave the
// clock untouched. Returns nil, nil when nothing is stored.
func (e *Engine) EnsureReleases(ctx context.Context, backend driven.Backend, repo *model.Repository, params model.TrackingParams) (*model.Release, error) {
	if IsDue(repo.NextUpdate, e.now()) {
		key := "releases:" + strconv.FormatInt(repo.ID, 10)
		_, err, _ := e.flight.Do(key, func() (any, error) {
			return nil, e.fetchReleases(ctx, backend, repo, params)
		})
		if err != nil {
			return nil, err
		}
	}

	latest, err := e.releases.Latest(ctx, repo.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	return latest, nil
}

func (e *Engine) fetchReleases(ctx context.Context, backend driven.Backend, repo *model.Repository, params model.TrackingParams) error {
	now := e.now()

	// Another call may have refreshed the repository since repo was loaded.
	current, err := e.repos.GetByID(ctx, repo.ID)
	if err != nil {
		return storeErr(err)
	}
	if current != nil {
		if !IsDue(current.NextUpdate, now) {
			return nil
		}
		repo = current
	}

	allow := params.Allow
	if len(allow) == 0 {
		allow = repo.Params.Allow
	}
	if len(allow) == 0 {
		allow = model.DefaultAllowedKinds()
	}

	limit := params.Limit
	if limit <= 0 {
		limit = e.cfg.ReleaseLimit
	}

	slog.Debug("repository releases due", "backend", backend.Name(), "repo", repo.Slug, "limit", limit)

	fetchCtx, cancel := e.fetchContext(ctx)
	found, err := backend.RepositoryReleases(fetchCtx, repo.Slug, driven.ReleaseQuery{
		Params: params,
		Allow:  allow,
		Limit:  limit,
	})
	cancel()

	switch {
	case err == nil:
	case isNoData(err):
		slog.Info("no release data available", "backend", backend.Name(), "repo", repo.Slug, "reason", err)
		metrics.RefreshTotal.WithLabelValues("releases", "no_data").Inc()
		found = nil
	default:
		metrics.RefreshTotal.WithLabelValues("releases", "error").Inc()
		return backendErr(backend.Name(), "repository releases", err)
	}

	found = filterReleases(found, allow)

	inserted, err := e.releases.Insert(ctx, repo.ID, found, e.cfg.ConflictPolicy)
	if err != nil {
		return storeErr(err)
	}
	metrics.ReleasesDiscovered.WithLabelValues(backend.Name()).Add(float64(inserted))

	ttl := releaseTTL(found)
	if err := e.repos.SetReleaseSchedule(ctx, repo.ID, now, e.nextDue(now, ttl)); err != nil {
		return storeErr(fmt.Errorf("schedule releases of %s: %w", repo.Slug, err))
	}

	metrics.RefreshTotal.WithLabelValues("releases", "ok").Inc()
	slog.Debug("repository releases refreshed",
		"backend", backend.Name(), "repo", repo.Slug, "found", len(found), "inserted", inserted, "ttl", ttl)
	return nil
}

// filterReleases drops versionless entries and kinds outside allow.
func filterReleases(found []model.DiscoveredRelease, allow []model.ReleaseKind) []model.DiscoveredRelease {
	out := found[:0:0]
	for _, rel := range found {
		if rel.Version == "" || !model.KindAllowed(allow, rel.Kind) {
			continue
		}
		out = append(out, rel)
	}
	return out
}
