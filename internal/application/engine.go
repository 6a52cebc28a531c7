package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// EngineConfig tunes the refresh engine.
type EngineConfig struct {
	// Threads is the number of workers a last-releases call fans out to.
	Threads int
	// ReleaseLimit bounds how many releases are requested per repository fetch.
	ReleaseLimit int
	// FetchTimeout bounds every single backend call. Zero disables the bound.
	FetchTimeout time.Duration
	// ConflictPolicy resolves rediscovered (repository, version) pairs.
	ConflictPolicy model.ConflictPolicy
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithJitter replaces the source of the [0, 1) values used to stagger TTLs.
func WithJitter(fn func() float64) EngineOption {
	return func(e *Engine) { e.jitter = fn }
}

// Engine is the refresh and reconciliation engine. It decides per subject and
// per repository whether cached data is stale, reconciles dynamic membership,
// fetches and stores releases, and fans the per-repository work out over a
// bounded number of workers.
type Engine struct {
	backends *BackendRegistry
	tracking driven.TrackingStore
	repos    driven.RepositoryStore
	releases driven.ReleaseStore
	cfg      EngineConfig
	clock    clockwork.Clock
	jitter   func() float64

	// flight collapses concurrent refreshes of the same subject or repository
	// coming from separate calls.
	flight singleflight.Group

	mu       sync.Mutex
	lastRuns map[int64]time.Time
}

// NewEngine creates an Engine with all required dependencies.
func NewEngine(
	backends *BackendRegistry,
	tracking driven.TrackingStore,
	repos driven.RepositoryStore,
	releases driven.ReleaseStore,
	cfg EngineConfig,
	opts ...EngineOption,
) *Engine {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.ReleaseLimit < 1 {
		cfg.ReleaseLimit = 1
	}
	if !cfg.ConflictPolicy.Valid() {
		cfg.ConflictPolicy = model.ConflictIgnore
	}

	e := &Engine{
		backends: backends,
		tracking: tracking,
		repos:    repos,
		releases: releases,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		jitter:   rand.Float64,
		lastRuns: make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LastRun returns when LastReleases last completed for a subject.
func (e *Engine) LastRun(trackingID int64) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastRuns[trackingID]
	return t, ok
}

// LastRuns returns a copy of the completion times of every subject served so far.
func (e *Engine) LastRuns() map[int64]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[int64]time.Time, len(e.lastRuns))
	for id, t := range e.lastRuns {
		out[id] = t
	}
	return out
}

func (e *Engine) recordRun(trackingID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastRuns[trackingID] = e.now()
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) nextDue(now time.Time, ttl time.Duration) time.Time {
	return now.Add(stagger(ttl, e.jitter()))
}

// fetchContext bounds one backend call by the configured timeout.
func (e *Engine) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.FetchTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.FetchTimeout)
}

// storeError marks a persistent store failure. Unlike backend failures it
// aborts the whole call.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{err: err}
}

func isStoreError(err error) bool {
	var se *storeError
	return errors.As(err, &se)
}

// backendErr wraps anything that is not one of the port sentinels or already a
// *BackendError, so timeouts and transport errors surface uniformly.
func backendErr(backend, op string, err error) error {
	if errors.Is(err, driven.ErrNotFound) || errors.Is(err, driven.ErrNotImplemented) {
		return err
	}
	var be *driven.BackendError
	if errors.As(err, &be) {
		return err
	}
	return &driven.BackendError{Backend: backend, Op: op, Err: err}
}

// isNoData reports errors that mean "nothing available" rather than failure.
func isNoData(err error) bool {
	return errors.Is(err, driven.ErrNotFound) || errors.Is(err, driven.ErrNotImplemented)
}
