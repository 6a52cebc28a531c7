// Package gitea implements the release backend for Gitea and Forgejo
// instances on top of the Gitea SDK.
package gitea

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "code.gitea.io/sdk/gitea"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Name is the backend name subjects refer to.
const Name = "gitea"

const (
	// DefaultInstance is used when neither the identifier nor the subject names one.
	DefaultInstance = "gitea.com"
	defaultAvatar   = "https://gitea.io/images/gitea.png"
	pageSize        = 50
)

var _ driven.Backend = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Tests use it to reach httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithScheme overrides the URL scheme used to reach instances ("https" by default).
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// WithInstanceTokens sets per-instance tokens, keyed by host name.
func WithInstanceTokens(tokens map[string]string) Option {
	return func(c *Client) {
		for host, token := range tokens {
			c.tokens[host] = token
		}
	}
}

// WithRateLimit bounds the request rate per instance.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.rps = rate.Limit(perSecond)
		c.burst = burst
	}
}

// Client implements driven.Backend for Gitea.
type Client struct {
	httpClient *http.Client
	scheme     string
	token      string
	tokens     map[string]string
	rps        rate.Limit
	burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Gitea backend. token authenticates against DefaultInstance.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		scheme:     "https",
		token:      token,
		tokens:     make(map[string]string),
		rps:        rate.Limit(5),
		burst:      5,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "gitea".
func (c *Client) Name() string { return Name }

type target struct {
	instance string
	path     string
	explicit bool
	token    string
}

// resolve splits "instance:owner/repo" identifiers and picks the token.
func (c *Client) resolve(identifier string, params model.TrackingParams) target {
	t := target{instance: DefaultInstance, path: identifier}
	if i := strings.LastIndex(identifier, ":"); i > 0 {
		t.instance, t.path, t.explicit = identifier[:i], identifier[i+1:], true
	} else if params.Instance != "" {
		t.instance, t.explicit = params.Instance, true
	}

	switch {
	case params.Token != "":
		t.token = params.Token
	case t.instance == DefaultInstance && c.token != "":
		t.token = c.token
	default:
		t.token = c.tokens[t.instance]
	}
	return t
}

// slug keeps identifiers on the default instance unprefixed.
func (t target) slug(fullName string) string {
	if t.explicit {
		return t.instance + ":" + fullName
	}
	return fullName
}

// ownerRepo splits the path of a repository target.
func (t target) ownerRepo() (string, string, error) {
	owner, repo, ok := strings.Cut(t.path, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%q is not owner/repo: %w", t.path, driven.ErrNotFound)
	}
	return owner, repo, nil
}

func (c *Client) limiter(instance string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[instance]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[instance] = l
	}
	return l
}

// api returns an SDK client bound to ctx for one instance. The server version
// lookup is skipped; only endpoints present in every supported release are used.
func (c *Client) api(ctx context.Context, t target) (*sdk.Client, error) {
	opts := []sdk.ClientOption{
		sdk.SetHTTPClient(c.httpClient),
		sdk.SetContext(ctx),
		sdk.SetGiteaVersion(""),
	}
	if t.token != "" {
		opts = append(opts, sdk.SetToken(t.token))
	}

	client, err := sdk.NewClient(c.scheme+"://"+t.instance, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", t.instance, err)
	}
	return client, nil
}

// call waits for the instance limiter, runs fn and maps its response. A 404
// becomes driven.ErrNotFound.
func call[T any](ctx context.Context, c *Client, t target, what string, fn func(*sdk.Client) (T, *sdk.Response, error)) (T, error) {
	var zero T
	if err := c.limiter(t.instance).Wait(ctx); err != nil {
		return zero, err
	}

	client, err := c.api(ctx, t)
	if err != nil {
		return zero, err
	}

	out, resp, err := fn(client)

	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	slog.Debug("gitea api call", "instance", t.instance, "call", what, "status", status)

	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case status == http.StatusNotFound:
		return zero, fmt.Errorf("%s on %s: %w", what, t.instance, driven.ErrNotFound)
	case status != 0:
		return zero, fmt.Errorf("%s on %s: HTTP %d: %w", what, t.instance, status, err)
	default:
		return zero, fmt.Errorf("%s on %s: %w", what, t.instance, err)
	}
}

// ListGroupRepositories lists the repositories of an organization.
func (c *Client) ListGroupRepositories(ctx context.Context, group string, params model.TrackingParams) ([]string, error) {
	t := c.resolve(group, params)

	var slugs []string
	for page := 1; ; page++ {
		repos, err := call(ctx, c, t, "org repos", func(api *sdk.Client) ([]*sdk.Repository, *sdk.Response, error) {
			return api.ListOrgRepos(t.path, sdk.ListOrgReposOptions{
				ListOptions: sdk.ListOptions{Page: page, PageSize: pageSize},
			})
		})
		if err != nil {
			return nil, fmt.Errorf("listing repositories of %s: %w", t.path, err)
		}
		for _, r := range repos {
			slugs = append(slugs, t.slug(r.FullName))
		}
		if len(repos) < pageSize {
			return slugs, nil
		}
	}
}

// ListUserRepositories lists the repositories a user has starred.
func (c *Client) ListUserRepositories(ctx context.Context, user string, params model.TrackingParams) ([]string, error) {
	t := c.resolve(user, params)

	repos, err := call(ctx, c, t, "starred repos", func(api *sdk.Client) ([]*sdk.Repository, *sdk.Response, error) {
		return api.GetStarredRepos(t.path)
	})
	if err != nil {
		return nil, fmt.Errorf("listing stars of %s: %w", t.path, err)
	}

	slugs := make([]string, 0, len(repos))
	for _, r := range repos {
		slugs = append(slugs, t.slug(r.FullName))
	}
	return slugs, nil
}

// RepositoryInfo returns the metadata of one repository. The avatar falls
// back to the owner's avatar and then to the Gitea logo.
func (c *Client) RepositoryInfo(ctx context.Context, slug string, params model.TrackingParams) (*model.RepositoryInfo, error) {
	t := c.resolve(slug, params)
	owner, name, err := t.ownerRepo()
	if err != nil {
		return nil, err
	}

	r, err := call(ctx, c, t, "repository", func(api *sdk.Client) (*sdk.Repository, *sdk.Response, error) {
		return api.GetRepo(owner, name)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching repository %s: %w", t.path, err)
	}

	namespace := owner
	if i := strings.LastIndex(r.FullName, "/"); i >= 0 {
		namespace = r.FullName[:i]
	}

	avatar := r.AvatarURL
	if avatar == "" && r.Owner != nil {
		avatar = r.Owner.AvatarURL
	}
	if avatar == "" {
		avatar = defaultAvatar
	}

	fullName := r.FullName
	if fullName == "" {
		fullName = t.path
	}

	return &model.RepositoryInfo{
		Slug:      t.slug(fullName),
		Name:      r.Name,
		Namespace: namespace,
		URL:       r.HTMLURL,
		AvatarURL: avatar,
	}, nil
}

// RepositoryReleases returns the newest q.Limit releases of the allowed
// kinds, oldest first. Drafts are never reported.
func (c *Client) RepositoryReleases(ctx context.Context, slug string, rq driven.ReleaseQuery) ([]model.DiscoveredRelease, error) {
	t := c.resolve(slug, rq.Params)
	owner, name, err := t.ownerRepo()
	if err != nil {
		return nil, err
	}

	releases, err := call(ctx, c, t, "releases", func(api *sdk.Client) ([]*sdk.Release, *sdk.Response, error) {
		return api.ListReleases(owner, name, sdk.ListReleasesOptions{
			ListOptions: sdk.ListOptions{Page: 1, PageSize: rq.Window()},
			IsDraft:     sdk.OptionalBool(false),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing releases of %s: %w", t.path, err)
	}

	out := make([]model.DiscoveredRelease, 0, len(releases))
	for _, r := range releases {
		if r.IsDraft {
			continue
		}
		kind := model.ReleaseKindRelease
		if r.IsPrerelease {
			kind = model.ReleaseKindPrerelease
		}
		published := r.PublishedAt
		if published.IsZero() {
			published = r.CreatedAt
		}
		out = append(out, model.DiscoveredRelease{
			Version:     r.TagName,
			Name:        r.Title,
			CommitSHA:   r.Target,
			PublishedAt: published.UTC(),
			Notes:       r.Note,
			URL:         r.HTMLURL,
			Kind:        kind,
		})
	}
	return rq.Select(out), nil
}
