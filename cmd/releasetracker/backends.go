package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ericfisherdev/releasetracker/internal/adapter/driven/git"
	"github.com/ericfisherdev/releasetracker/internal/adapter/driven/gitea"
	githubadapter "github.com/ericfisherdev/releasetracker/internal/adapter/driven/github"
	"github.com/ericfisherdev/releasetracker/internal/adapter/driven/gitlab"
	"github.com/ericfisherdev/releasetracker/internal/adapter/driven/resilience"
	"github.com/ericfisherdev/releasetracker/internal/config"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// credentials is the token set of one backend after stored credentials have
// been laid over the configured ones.
type credentials struct {
	token     string
	instances map[string]string
}

// resolveCredentials merges stored tokens ("gitlab", "gitlab:host") over the
// configuration. Stored credentials take priority.
func resolveCredentials(ctx context.Context, cfg *config.Config, store driven.CredentialStore, name string) (credentials, error) {
	file := cfg.Backend(name)
	c := credentials{token: file.Token, instances: make(map[string]string, len(file.Instances))}
	for host, token := range file.Instances {
		c.instances[host] = token
	}

	stored, err := store.List(ctx)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		return c, nil
	}
	if err != nil {
		return credentials{}, fmt.Errorf("list stored credentials: %w", err)
	}

	for _, cred := range stored {
		backend, host, hasHost := strings.Cut(cred.Service, ":")
		switch {
		case backend != name:
		case hasHost:
			c.instances[host] = cred.Value
		default:
			c.token = cred.Value
		}
	}
	return c, nil
}

// backendFactory returns the application.BackendFactory for cmd: it builds the
// concrete client for a backend name and wraps it in a circuit breaker.
func backendFactory(cfg *config.Config, store driven.CredentialStore) func(ctx context.Context, name string) (driven.Backend, error) {
	return func(ctx context.Context, name string) (driven.Backend, error) {
		creds, err := resolveCredentials(ctx, cfg, store, name)
		if err != nil {
			return nil, err
		}
		file := cfg.Backend(name)

		var b driven.Backend
		switch name {
		case githubadapter.Name:
			b = githubadapter.NewClient(creds.token)
		case gitlab.Name:
			opts := []gitlab.Option{gitlab.WithInstanceTokens(creds.instances)}
			if file.RequestsPerSecond > 0 {
				opts = append(opts, gitlab.WithRateLimit(file.RequestsPerSecond, max(int(file.RequestsPerSecond), 1)))
			}
			b = gitlab.NewClient(creds.token, opts...)
		case gitea.Name:
			opts := []gitea.Option{gitea.WithInstanceTokens(creds.instances)}
			if file.RequestsPerSecond > 0 {
				opts = append(opts, gitea.WithRateLimit(file.RequestsPerSecond, max(int(file.RequestsPerSecond), 1)))
			}
			b = gitea.NewClient(creds.token, opts...)
		case git.Name:
			var opts []git.Option
			if file.CacheDir != "" {
				opts = append(opts, git.WithCacheDir(file.CacheDir))
			}
			b = git.NewClient(opts...)
		default:
			return nil, fmt.Errorf("backend %q: %w", name, driven.ErrUnknownBackend)
		}

		return resilience.Wrap(b, resilience.DefaultSettings()), nil
	}
}
