// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by backends and stores.
var (
	// ErrNotFound indicates a subject or repository identifier the backend cannot resolve.
	ErrNotFound = errors.New("not found")

	// ErrNotImplemented indicates a capability the backend does not support.
	ErrNotImplemented = errors.New("not implemented")

	// ErrTrackingNotFound indicates the requested tracking subject does not exist.
	ErrTrackingNotFound = errors.New("tracking not found")

	// ErrTrackingExists indicates a subject with the same key is already tracked.
	ErrTrackingExists = errors.New("tracking already exists")

	// ErrUnknownBackend indicates no backend is registered under the requested name.
	ErrUnknownBackend = errors.New("unknown backend")
)

// BackendError wraps a transport, auth, rate limit or timeout failure of a backend.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DiscoveryError reports a repository identifier that could not be resolved to metadata.
type DiscoveryError struct {
	Backend    string
	Identifier string
	Err        error
}

func (e *DiscoveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unable to discover repository %s on %s", e.Identifier, e.Backend)
	}
	return fmt.Sprintf("unable to discover repository %s on %s: %v", e.Identifier, e.Backend, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
