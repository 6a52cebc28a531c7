// Package gitlab implements the release backend for GitLab instances using
// the GitLab GraphQL API.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shurcooL/graphql"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Name is the backend name subjects refer to.
const Name = "gitlab"

// DefaultInstance is used when neither the identifier nor the subject names one.
const DefaultInstance = "gitlab.com"

var _ driven.Backend = (*Client)(nil)

// ID is the GraphQL ID scalar. Its type name becomes the variable type in queries.
type ID string

// errTokenRequired is returned for queries GitLab only answers to authenticated users.
var errTokenRequired = errors.New("starred projects can only be listed with a token")

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the base HTTP client. Tests use it to reach httptest servers.
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

// Client implements driven.Backend for GitLab. One GraphQL client and one
// rate limiter is kept per instance and token.
type Client struct {
	httpClient *http.Client
	scheme     string
	token      string            // Token for DefaultInstance.
	tokens     map[string]string // Tokens for other instances.
	rps        rate.Limit
	burst      int

	mu       sync.Mutex
	clients  map[string]*graphql.Client
	limiters map[string]*rate.Limiter
}

// NewClient creates a GitLab backend. token authenticates against gitlab.com.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		scheme:     "https",
		token:      token,
		tokens:     make(map[string]string),
		rps:        rate.Limit(5),
		burst:      5,
		clients:    make(map[string]*graphql.Client),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "gitlab".
func (c *Client) Name() string { return Name }

// target is one resolved request destination.
type target struct {
	instance string
	path     string
	explicit bool // The instance came from the identifier or the subject.
	token    string
}

// resolve splits "instance:path" identifiers and picks the token: subject
// token first, then the configured token for the instance.
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

func (c *Client) slug(t target, fullPath string) string {
	if t.explicit {
		return t.instance + ":" + fullPath
	}
	return fullPath
}

func (c *Client) client(t target) *graphql.Client {
	key := t.instance + "\x00" + t.token

	c.mu.Lock()
	defer c.mu.Unlock()

	if gc, ok := c.clients[key]; ok {
		return gc
	}

	hc := c.httpClient
	if t.token != "" {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc = &http.Client{
			Timeout: hc.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: t.token}),
				Base:   base,
			},
		}
	}

	gc := graphql.NewClient(fmt.Sprintf("%s://%s/api/graphql", c.scheme, t.instance), hc)
	c.clients[key] = gc
	return gc
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

func (c *Client) query(ctx context.Context, t target, q any, vars map[string]any) error {
	if err := c.limiter(t.instance).Wait(ctx); err != nil {
		return err
	}

	slog.Debug("gitlab query", "instance", t.instance, "path", t.path)
	return c.client(t).Query(ctx, q, vars)
}

type projectNodes struct {
	Nodes []struct {
		FullPath string `graphql:"fullPath"`
	} `graphql:"nodes"`
}

func (p projectNodes) paths() []string {
	out := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		out = append(out, n.FullPath)
	}
	sort.Strings(out)
	return out
}

// ListGroupRepositories lists the projects of a group or user namespace.
func (c *Client) ListGroupRepositories(ctx context.Context, group string, params model.TrackingParams) ([]string, error) {
	t := c.resolve(group, params)

	var q struct {
		Namespace *struct {
			Projects projectNodes `graphql:"projects"`
		} `graphql:"namespace(fullPath: $fullPath)"`
	}
	if err := c.query(ctx, t, &q, map[string]any{"fullPath": ID(t.path)}); err != nil {
		return nil, fmt.Errorf("listing projects of %s on %s: %w", t.path, t.instance, err)
	}
	if q.Namespace == nil {
		return nil, fmt.Errorf("namespace %s on %s: %w", t.path, t.instance, driven.ErrNotFound)
	}

	return c.slugs(t, q.Namespace.Projects.paths()), nil
}

// ListUserRepositories lists the projects a user has starred. GitLab only
// answers this with a token.
func (c *Client) ListUserRepositories(ctx context.Context, user string, params model.TrackingParams) ([]string, error) {
	t := c.resolve(user, params)
	if t.token == "" {
		return nil, fmt.Errorf("user %s on %s: %w", t.path, t.instance, errTokenRequired)
	}

	var q struct {
		User *struct {
			StarredProjects projectNodes `graphql:"starredProjects"`
		} `graphql:"user(username: $username)"`
	}
	if err := c.query(ctx, t, &q, map[string]any{"username": graphql.String(t.path)}); err != nil {
		return nil, fmt.Errorf("listing stars of %s on %s: %w", t.path, t.instance, err)
	}
	if q.User == nil {
		return nil, fmt.Errorf("user %s on %s: %w", t.path, t.instance, driven.ErrNotFound)
	}

	return c.slugs(t, q.User.StarredProjects.paths()), nil
}

func (c *Client) slugs(t target, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.slug(t, p))
	}
	return out
}

// RepositoryInfo returns the metadata of one project. The namespace falls back
// to the group, and the avatar to the group's avatar.
func (c *Client) RepositoryInfo(ctx context.Context, slug string, params model.TrackingParams) (*model.RepositoryInfo, error) {
	t := c.resolve(slug, params)

	var q struct {
		Project *struct {
			FullPath  string `graphql:"fullPath"`
			Name      string `graphql:"name"`
			AvatarURL string `graphql:"avatarUrl"`
			WebURL    string `graphql:"webUrl"`
			Group     *struct {
				FullPath  string `graphql:"fullPath"`
				AvatarURL string `graphql:"avatarUrl"`
			} `graphql:"group"`
			Namespace *struct {
				FullPath string `graphql:"fullPath"`
			} `graphql:"namespace"`
		} `graphql:"project(fullPath: $fullPath)"`
	}
	if err := c.query(ctx, t, &q, map[string]any{"fullPath": ID(t.path)}); err != nil {
		return nil, fmt.Errorf("fetching project %s on %s: %w", t.path, t.instance, err)
	}
	if q.Project == nil {
		return nil, fmt.Errorf("project %s on %s: %w", t.path, t.instance, driven.ErrNotFound)
	}

	p := q.Project
	info := &model.RepositoryInfo{
		Slug:      c.slug(t, p.FullPath),
		Name:      p.Name,
		URL:       p.WebURL,
		AvatarURL: p.AvatarURL,
	}
	if p.Namespace != nil {
		info.Namespace = p.Namespace.FullPath
	}
	if p.Group != nil {
		if info.Namespace == "" {
			info.Namespace = p.Group.FullPath
		}
		if info.AvatarURL == "" {
			info.AvatarURL = p.Group.AvatarURL
		}
	}
	return info, nil
}

// RepositoryReleases returns the newest q.Limit releases of the allowed kinds,
// oldest first. Upcoming releases are reported as prereleases.
func (c *Client) RepositoryReleases(ctx context.Context, slug string, rq driven.ReleaseQuery) ([]model.DiscoveredRelease, error) {
	t := c.resolve(slug, rq.Params)

	var q struct {
		Project *struct {
			Releases struct {
				Nodes []struct {
					TagName string `graphql:"tagName"`
					Name    string `graphql:"name"`
					Commit  *struct {
						SHA string `graphql:"sha"`
					} `graphql:"commit"`
					ReleasedAt      *time.Time `graphql:"releasedAt"`
					Description     string     `graphql:"description"`
					UpcomingRelease bool       `graphql:"upcomingRelease"`
					Links           *struct {
						SelfURL string `graphql:"selfUrl"`
					} `graphql:"links"`
				} `graphql:"nodes"`
			} `graphql:"releases(last: $window, sort: RELEASED_AT_ASC)"`
		} `graphql:"project(fullPath: $fullPath)"`
	}
	vars := map[string]any{
		"fullPath": ID(t.path),
		"window":   graphql.Int(rq.Window()),
	}
	if err := c.query(ctx, t, &q, vars); err != nil {
		return nil, fmt.Errorf("querying releases of %s on %s: %w", t.path, t.instance, err)
	}
	if q.Project == nil {
		return nil, fmt.Errorf("project %s on %s: %w", t.path, t.instance, driven.ErrNotFound)
	}

	var out []model.DiscoveredRelease
	for _, n := range q.Project.Releases.Nodes {
		rel := model.DiscoveredRelease{
			Version: n.TagName,
			Name:    n.Name,
			Notes:   n.Description,
			Kind:    model.ReleaseKindRelease,
		}
		if n.UpcomingRelease {
			rel.Kind = model.ReleaseKindPrerelease
		}
		if n.Commit != nil {
			rel.CommitSHA = n.Commit.SHA
		}
		if n.ReleasedAt != nil {
			rel.PublishedAt = n.ReleasedAt.UTC()
		}
		if n.Links != nil {
			rel.URL = n.Links.SelfURL
		}
		out = append(out, rel)
	}
	return rq.Select(out), nil
}
