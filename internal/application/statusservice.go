package application

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/metrics"
)

// nearLimitPercent is the remaining share of a rate limit budget at or below
// which the budget is reported as nearly exhausted.
const nearLimitPercent = 5

// RateLimitStatus is one rate limit budget with its exhaustion flag.
type RateLimitStatus struct {
	driven.RateLimit
	NearLimit bool
}

// BackendStatus describes one registered backend.
type BackendStatus struct {
	Name       string
	RateLimits []RateLimitStatus
	// Error is set when the rate limits could not be read.
	Error string
}

// Status is a point-in-time summary of the service.
type Status struct {
	CheckedAt time.Time
	Backends  []BackendStatus
	Tracking  int
	// LastRuns holds when LastReleases last completed, per tracking ID.
	LastRuns map[int64]time.Time
}

// StatusService assembles the status view for the HTTP API. It depends only
// on port interfaces and the engine's run bookkeeping.
type StatusService struct {
	backends *BackendRegistry
	tracking driven.TrackingStore
	engine   *Engine
}

// NewStatusService creates a new StatusService with the required dependencies.
func NewStatusService(backends *BackendRegistry, tracking driven.TrackingStore, engine *Engine) *StatusService {
	return &StatusService{
		backends: backends,
		tracking: tracking,
		engine:   engine,
	}
}

// Status collects backend rate limits, the number of tracked subjects and the
// last completed run per subject. A backend whose limits cannot be read is
// reported with an error instead of failing the whole view.
func (s *StatusService) Status(ctx context.Context) (Status, error) {
	all, err := s.tracking.ListAll(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		CheckedAt: s.engine.now(),
		Tracking:  len(all),
		LastRuns:  s.engine.LastRuns(),
	}

	for _, name := range s.backends.Names() {
		b, err := s.backends.Get(name)
		if err != nil {
			continue
		}
		st.Backends = append(st.Backends, s.backendStatus(ctx, b))
	}

	return st, nil
}

func (s *StatusService) backendStatus(ctx context.Context, b driven.Backend) BackendStatus {
	bs := BackendStatus{Name: b.Name()}

	reporter, ok := b.(driven.RateLimitReporter)
	if !ok {
		return bs
	}

	limits, err := reporter.RateLimits(ctx)
	if err != nil {
		if !errors.Is(err, driven.ErrNotImplemented) {
			bs.Error = err.Error()
		}
		return bs
	}

	for _, rl := range limits {
		metrics.RateLimitRemaining.WithLabelValues(bs.Name, rl.Resource).Set(float64(rl.Remaining))
		bs.RateLimits = append(bs.RateLimits, RateLimitStatus{
			RateLimit: rl,
			NearLimit: NearLimit(rl),
		})
	}
	return bs
}

// NearLimit reports whether at most 5% of a rate limit budget remains.
func NearLimit(rl driven.RateLimit) bool {
	if rl.Limit <= 0 {
		return false
	}
	return rl.Remaining*100 <= rl.Limit*nearLimitPercent
}
