package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// BackendRegistry holds one backend handle per name and allows a handle to be
// swapped at runtime, e.g. after a credential update.
type BackendRegistry struct {
	mu       sync.RWMutex
	backends map[string]driven.Backend
}

// NewBackendRegistry creates a registry keyed by each backend's Name().
func NewBackendRegistry(backends ...driven.Backend) *BackendRegistry {
	r := &BackendRegistry{backends: make(map[string]driven.Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Get returns the backend registered under name, or ErrUnknownBackend.
func (r *BackendRegistry) Get(name string) (driven.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q: %w", name, driven.ErrUnknownBackend)
	}
	return b, nil
}

// Has reports whether a backend is registered under name.
func (r *BackendRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Names returns the registered backend names in sorted order.
func (r *BackendRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace registers b under its name, replacing any previous handle. The next
// Get returns the new handle; calls already in flight keep the old one.
func (r *BackendRegistry) Replace(b driven.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}
