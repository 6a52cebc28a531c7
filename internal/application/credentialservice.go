package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// BackendFactory builds a fresh backend handle for name from the current
// credentials.
type BackendFactory func(ctx context.Context, name string) (driven.Backend, error)

// CredentialService stores backend tokens and swaps the affected backend in
// the registry so the next call uses the new token.
type CredentialService struct {
	store    driven.CredentialStore
	backends *BackendRegistry
	build    BackendFactory
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(store driven.CredentialStore, backends *BackendRegistry, build BackendFactory) *CredentialService {
	return &CredentialService{store: store, backends: backends, build: build}
}

// backendOf returns the backend a service name belongs to: "github" or
// "gitlab:gitlab.example.com".
func (s *CredentialService) backendOf(service string) (string, error) {
	name, instance, hasInstance := strings.Cut(service, ":")
	if name == "" || (hasInstance && (instance == "" || strings.ContainsAny(instance, "/ "))) {
		return "", &model.ValidationError{Field: "service", Reason: fmt.Sprintf("%q is not a backend or backend:instance name", service)}
	}
	if !s.backends.Has(name) {
		return "", fmt.Errorf("credential for %q: %w", service, driven.ErrUnknownBackend)
	}
	return name, nil
}

// Set stores token for service and rebuilds its backend.
func (s *CredentialService) Set(ctx context.Context, service, token string) error {
	name, err := s.backendOf(service)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return &model.ValidationError{Field: "token", Reason: "must not be empty"}
	}

	if err := s.store.Set(ctx, service, token); err != nil {
		return fmt.Errorf("store credential for %s: %w", service, err)
	}
	return s.rebuild(ctx, name)
}

// Delete removes the token of service and rebuilds its backend.
func (s *CredentialService) Delete(ctx context.Context, service string) error {
	name, err := s.backendOf(service)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, service); err != nil {
		return fmt.Errorf("delete credential for %s: %w", service, err)
	}
	return s.rebuild(ctx, name)
}

// Services lists the services that have a stored token.
func (s *CredentialService) Services(ctx context.Context) ([]string, error) {
	creds, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]string, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Service)
	}
	return out, nil
}

func (s *CredentialService) rebuild(ctx context.Context, name string) error {
	b, err := s.build(ctx, name)
	if err != nil {
		return fmt.Errorf("rebuild %s backend: %w", name, err)
	}
	s.backends.Replace(b)
	slog.Info("backend credentials updated", "backend", name)
	return nil
}
