package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/metrics"
)

// ReconcileResult describes the membership of a subject after reconciliation.
type ReconcileResult struct {
	Added     []model.Repository
	Removed   []model.Repository
	Members   []model.Repository
	Refreshed bool // False when the subject's clock was not due and nothing was fetched.
}

// Reconcile makes the stored membership of a subject match the backend. When
// the subject's clock is not due the stored membership is returned without a
// backend call. A failed listing aborts without touching membership or the
// clock, so the subject stays due. Repository subjects are reconciled against
// the single set {object} without any listing call.
func (e *Engine) Reconcile(ctx context.Context, t model.Tracking) (ReconcileResult, error) {
	v, err, _ := e.flight.Do("tracking:"+strconv.FormatInt(t.ID, 10), func() (any, error) {
		return e.reconcile(ctx, t)
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return v.(ReconcileResult), nil
}

func (e *Engine) reconcile(ctx context.Context, t model.Tracking) (ReconcileResult, error) {
	now := e.now()

	current, err := e.tracking.ListMembers(ctx, t.ID)
	if err != nil {
		return ReconcileResult{}, storeErr(err)
	}

	if !IsDue(t.NextUpdate, now) {
		return ReconcileResult{Members: current}, nil
	}

	backend, err := e.backends.Get(t.Backend)
	if err != nil {
		return ReconcileResult{}, err
	}

	discovered, err := e.discover(ctx, backend, t)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("membership", "error").Inc()
		return ReconcileResult{}, err
	}

	wanted := make(map[string]bool, len(discovered))
	var ordered []string
	for _, slug := range discovered {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			slog.Debug("dropping empty repository identifier", "tracking_id", t.ID, "backend", t.Backend)
			continue
		}
		if !wanted[slug] {
			wanted[slug] = true
			ordered = append(ordered, slug)
		}
	}

	currentBySlug := make(map[string]model.Repository, len(current))
	for _, repo := range current {
		currentBySlug[repo.Slug] = repo
	}

	var res ReconcileResult
	change := driven.MembershipChange{LastUpdate: now, NextUpdate: e.nextDue(now, MembershipTTL)}

	for _, slug := range ordered {
		if _, ok := currentBySlug[slug]; ok {
			continue
		}

		repo, err := e.repos.GetBySlug(ctx, backend.Name(), slug)
		if err != nil {
			return ReconcileResult{}, storeErr(err)
		}
		if repo == nil {
			repo, err = e.refreshRepository(ctx, backend, slug, nil, t.Params)
			if err != nil {
				if isStoreError(err) || t.Kind == model.SubjectRepository {
					return ReconcileResult{}, err
				}
				slog.Warn("skipping unresolvable repository", "tracking_id", t.ID, "repo", slug, "error", err)
				continue
			}
		}

		slog.Debug("adding repository to tracking", "tracking_id", t.ID, "repo", repo.Slug, "repository_id", repo.ID)
		res.Added = append(res.Added, *repo)
		change.Add = append(change.Add, repo.ID)
	}

	for _, repo := range current {
		if wanted[repo.Slug] {
			res.Members = append(res.Members, repo)
			continue
		}
		slog.Debug("removing repository from tracking", "tracking_id", t.ID, "repo", repo.Slug, "repository_id", repo.ID)
		res.Removed = append(res.Removed, repo)
		change.Remove = append(change.Remove, repo.ID)
	}

	if err := e.tracking.ReconcileMembers(ctx, t.ID, change); err != nil {
		return ReconcileResult{}, storeErr(err)
	}

	res.Members = append(res.Members, res.Added...)
	sort.Slice(res.Members, func(i, j int) bool { return res.Members[i].Slug < res.Members[j].Slug })
	res.Refreshed = true

	metrics.RefreshTotal.WithLabelValues("membership", "ok").Inc()
	metrics.MembershipChanges.WithLabelValues("added").Add(float64(len(res.Added)))
	metrics.MembershipChanges.WithLabelValues("removed").Add(float64(len(res.Removed)))
	slog.Info("membership reconciled",
		"tracking_id", t.ID,
		"backend", t.Backend,
		"object", t.Object,
		"added", len(res.Added),
		"removed", len(res.Removed),
		"members", len(res.Members),
	)

	return res, nil
}

// discover lists the repository identifiers that currently belong to a subject.
func (e *Engine) discover(ctx context.Context, backend driven.Backend, t model.Tracking) ([]string, error) {
	if t.Kind == model.SubjectRepository {
		return []string{t.Object}, nil
	}

	fetchCtx, cancel := e.fetchContext(ctx)
	defer cancel()

	var (
		slugs []string
		err   error
		op    string
	)
	switch t.Kind {
	case model.SubjectGroup:
		op = "list group repositories"
		slugs, err = backend.ListGroupRepositories(fetchCtx, t.Object, t.Params)
	case model.SubjectUser:
		op = "list user repositories"
		slugs, err = backend.ListUserRepositories(fetchCtx, t.Object, t.Params)
	default:
		return nil, &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown subject kind %q", t.Kind)}
	}
	if err != nil {
		return nil, fmt.Errorf("%s of %s: %w", op, t.Object, backendErr(backend.Name(), op, err))
	}

	return slugs, nil
}
