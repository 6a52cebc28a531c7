// Package resilience wraps release backends with a circuit breaker and
// request metrics.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/metrics"
)

// Settings tune the breaker of one backend.
type Settings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many trial requests pass while half-open.
	HalfOpenRequests uint32
}

// DefaultSettings trip after five consecutive failures and retry after a minute.
func DefaultSettings() Settings {
	return Settings{ConsecutiveFailures: 5, OpenTimeout: time.Minute, HalfOpenRequests: 1}
}

var (
	_ driven.Backend             = (*Backend)(nil)
	_ driven.RepositoryValidator = (*Backend)(nil)
	_ driven.RateLimitReporter   = (*Backend)(nil)
)

// Backend decorates a driven.Backend. Unresolvable identifiers and
// unsupported capabilities are answers, not failures, so they never trip it.
type Backend struct {
	inner driven.Backend
	cb    *gobreaker.CircuitBreaker[any]
}

// Wrap returns inner guarded by a circuit breaker.
func Wrap(inner driven.Backend, s Settings) *Backend {
	name := inner.Name()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Backend{inner: inner, cb: cb}
}

func countsAsSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, driven.ErrNotFound) ||
		errors.Is(err, driven.ErrNotImplemented) ||
		errors.Is(err, context.Canceled)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, driven.ErrNotFound):
		return "not_found"
	case errors.Is(err, driven.ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}

// State returns the breaker state.
func (b *Backend) State() gobreaker.State { return b.cb.State() }

// Unwrap returns the decorated backend.
func (b *Backend) Unwrap() driven.Backend { return b.inner }

// Name returns the decorated backend's name.
func (b *Backend) Name() string { return b.inner.Name() }

// call runs fn through the breaker and records request metrics. A rejected
// call becomes a *driven.BackendError.
func call[T any](b *Backend, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := b.cb.Execute(func() (any, error) { return fn() })

	name := b.inner.Name()
	metrics.BackendRequestsTotal.WithLabelValues(name, op, outcome(err)).Inc()
	metrics.BackendRequestDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &driven.BackendError{Backend: name, Op: op, Err: err}
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	return res.(T), nil
}

// ListGroupRepositories delegates through the breaker.
func (b *Backend) ListGroupRepositories(ctx context.Context, group string, params model.TrackingParams) ([]string, error) {
	return call(b, "list_group", func() ([]string, error) {
		return b.inner.ListGroupRepositories(ctx, group, params)
	})
}

// ListUserRepositories delegates through the breaker.
func (b *Backend) ListUserRepositories(ctx context.Context, user string, params model.TrackingParams) ([]string, error) {
	return call(b, "list_user", func() ([]string, error) {
		return b.inner.ListUserRepositories(ctx, user, params)
	})
}

// RepositoryInfo delegates through the breaker.
func (b *Backend) RepositoryInfo(ctx context.Context, slug string, params model.TrackingParams) (*model.RepositoryInfo, error) {
	return call(b, "repository_info", func() (*model.RepositoryInfo, error) {
		return b.inner.RepositoryInfo(ctx, slug, params)
	})
}

// RepositoryReleases delegates through the breaker.
func (b *Backend) RepositoryReleases(ctx context.Context, slug string, q driven.ReleaseQuery) ([]model.DiscoveredRelease, error) {
	return call(b, "repository_releases", func() ([]model.DiscoveredRelease, error) {
		return b.inner.RepositoryReleases(ctx, slug, q)
	})
}

// ValidateRepository forwards to the inner backend when it can validate and
// succeeds otherwise.
func (b *Backend) ValidateRepository(ctx context.Context, slug string, params model.TrackingParams) error {
	v, ok := b.inner.(driven.RepositoryValidator)
	if !ok {
		return nil
	}
	_, err := call(b, "validate", func() (struct{}, error) {
		return struct{}{}, v.ValidateRepository(ctx, slug, params)
	})
	return err
}

// RateLimits forwards to the inner backend outside the breaker so status
// reporting keeps working while it is open.
func (b *Backend) RateLimits(ctx context.Context) ([]driven.RateLimit, error) {
	r, ok := b.inner.(driven.RateLimitReporter)
	if !ok {
		return nil, fmt.Errorf("%s rate limits: %w", b.inner.Name(), driven.ErrNotImplemented)
	}
	return r.RateLimits(ctx)
}
