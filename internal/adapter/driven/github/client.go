// Package github implements the release backend for github.com using the
// go-github REST client and the GitHub GraphQL API.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Name is the backend name subjects refer to.
const Name = "github"

const defaultGraphQLURL = "https://api.github.com/graphql"

// Compile-time interface satisfaction checks.
var (
	_ driven.Backend           = (*Client)(nil)
	_ driven.RateLimitReporter = (*Client)(nil)
)

// Client implements driven.Backend for GitHub.
type Client struct {
	rest       *gh.Client
	gql        *githubv4.Client // nil without a token; releases then come from REST.
	transport  http.RoundTripper
	baseURL    *url.URL // nil for api.github.com.
	graphqlURL string
	token      string

	mu        sync.Mutex
	overrides map[string]*Client // Clients for per-subject token overrides.
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth) and githubv4 over an
//     oauth2 bearer transport
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	return newClient(rateLimitClient.Transport, nil, defaultGraphQLURL, token)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	// Derive graphqlURL from baseURL so httptest servers can intercept GraphQL requests.
	graphqlU := *u
	graphqlU.Path = "/graphql"

	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return newClient(transport, u, graphqlU.String(), token), nil
}

func newClient(transport http.RoundTripper, baseURL *url.URL, graphqlURL, token string) *Client {
	rest := gh.NewClient(&http.Client{Transport: transport})
	if token != "" {
		rest = rest.WithAuthToken(token)
	}
	if baseURL != nil {
		rest.BaseURL = baseURL
	}

	var gql *githubv4.Client
	if token != "" {
		authed := &http.Client{Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   transport,
		}}
		gql = githubv4.NewEnterpriseClient(graphqlURL, authed)
	}

	return &Client{
		rest:       rest,
		gql:        gql,
		transport:  transport,
		baseURL:    baseURL,
		graphqlURL: graphqlURL,
		token:      token,
		overrides:  make(map[string]*Client),
	}
}

// Name returns "github".
func (c *Client) Name() string { return Name }

// forParams returns the client to use for a subject's parameters. A subject
// token that differs from the configured one gets its own cached client.
func (c *Client) forParams(params model.TrackingParams) *Client {
	if params.Token == "" || params.Token == c.token {
		return c
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if oc, ok := c.overrides[params.Token]; ok {
		return oc
	}
	oc := newClient(c.transport, c.baseURL, c.graphqlURL, params.Token)
	c.overrides[params.Token] = oc
	return oc
}

// ListGroupRepositories lists the repositories of an organization. Users are
// accepted as groups too: a 404 from the organization endpoint falls back to
// the user's own repositories.
func (c *Client) ListGroupRepositories(ctx context.Context, group string, params model.TrackingParams) ([]string, error) {
	client := c.forParams(params)

	opts := &gh.RepositoryListByOrgOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var slugs []string

	for {
		repos, resp, err := client.rest.Repositories.ListByOrg(ctx, group, opts)
		if err != nil {
			if isNotFound(resp) {
				return client.listUserOwned(ctx, group)
			}
			return nil, fmt.Errorf("listing repositories of org %s (page %d): %w", group, opts.Page, err)
		}

		logRateLimit(resp, "orgs/"+group, opts.Page, len(repos))

		for _, r := range repos {
			slugs = append(slugs, r.GetFullName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return slugs, nil
}

func (c *Client) listUserOwned(ctx context.Context, user string) ([]string, error) {
	opts := &gh.RepositoryListByUserOptions{Type: "owner", ListOptions: gh.ListOptions{PerPage: 100}}
	var slugs []string

	for {
		repos, resp, err := c.rest.Repositories.ListByUser(ctx, user, opts)
		if err != nil {
			if isNotFound(resp) {
				return nil, fmt.Errorf("group %s: %w", user, driven.ErrNotFound)
			}
			return nil, fmt.Errorf("listing repositories of user %s (page %d): %w", user, opts.Page, err)
		}

		logRateLimit(resp, "users/"+user, opts.Page, len(repos))

		for _, r := range repos {
			slugs = append(slugs, r.GetFullName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return slugs, nil
}

// ListUserRepositories lists the repositories a user has starred.
func (c *Client) ListUserRepositories(ctx context.Context, user string, params model.TrackingParams) ([]string, error) {
	client := c.forParams(params)

	opts := &gh.ActivityListStarredOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var slugs []string

	for {
		starred, resp, err := client.rest.Activity.ListStarred(ctx, user, opts)
		if err != nil {
			if isNotFound(resp) {
				return nil, fmt.Errorf("user %s: %w", user, driven.ErrNotFound)
			}
			return nil, fmt.Errorf("listing stars of %s (page %d): %w", user, opts.Page, err)
		}

		logRateLimit(resp, "stars/"+user, opts.Page, len(starred))

		for _, s := range starred {
			slugs = append(slugs, s.GetRepository().GetFullName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return slugs, nil
}

// RepositoryInfo returns the metadata of one repository.
func (c *Client) RepositoryInfo(ctx context.Context, slug string, params model.TrackingParams) (*model.RepositoryInfo, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrNotFound, err)
	}

	r, resp, err := c.forParams(params).rest.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if isNotFound(resp) {
			return nil, fmt.Errorf("repository %s: %w", slug, driven.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching repository %s: %w", slug, err)
	}

	logRateLimit(resp, slug, 0, 1)

	return &model.RepositoryInfo{
		Slug:      r.GetFullName(),
		Name:      r.GetName(),
		Namespace: r.GetOwner().GetLogin(),
		URL:       r.GetHTMLURL(),
		AvatarURL: sizedAvatar(r.GetOwner().GetAvatarURL()),
	}, nil
}

// RepositoryReleases returns up to q.Limit of the newest releases and tags of
// the allowed kinds, oldest first. With a token both formal releases and tag
// refs come from GraphQL; without one only REST releases are available.
func (c *Client) RepositoryReleases(ctx context.Context, slug string, q driven.ReleaseQuery) ([]model.DiscoveredRelease, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrNotFound, err)
	}

	client := c.forParams(q.Params)

	var found []model.DiscoveredRelease
	if client.gql != nil {
		found, err = client.graphqlReleases(ctx, owner, repo, q.Window())
	} else {
		found, err = client.restReleases(ctx, owner, repo, q.Window())
	}
	if err != nil {
		return nil, err
	}

	return q.Select(found), nil
}

func (c *Client) restReleases(ctx context.Context, owner, repo string, window int) ([]model.DiscoveredRelease, error) {
	releases, resp, err := c.rest.Repositories.ListReleases(ctx, owner, repo, &gh.ListOptions{PerPage: window})
	if err != nil {
		if isNotFound(resp) {
			return nil, fmt.Errorf("repository %s/%s: %w", owner, repo, driven.ErrNotFound)
		}
		return nil, fmt.Errorf("listing releases of %s/%s: %w", owner, repo, err)
	}

	logRateLimit(resp, owner+"/"+repo+"/releases", 0, len(releases))

	out := make([]model.DiscoveredRelease, 0, len(releases))
	for _, r := range releases {
		if r.GetDraft() {
			continue
		}
		kind := model.ReleaseKindRelease
		if r.GetPrerelease() {
			kind = model.ReleaseKindPrerelease
		}
		published := r.GetPublishedAt().Time
		if published.IsZero() {
			published = r.GetCreatedAt().Time
		}
		out = append(out, model.DiscoveredRelease{
			Version:     r.GetTagName(),
			Name:        r.GetName(),
			CommitSHA:   r.GetTargetCommitish(),
			PublishedAt: published.UTC(),
			Notes:       r.GetBody(),
			URL:         r.GetHTMLURL(),
			Kind:        kind,
		})
	}
	return out, nil
}

// RateLimits reports the REST core and GraphQL budgets of the configured token.
func (c *Client) RateLimits(ctx context.Context) ([]driven.RateLimit, error) {
	limits, _, err := c.rest.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching rate limits: %w", err)
	}

	var out []driven.RateLimit
	if core := limits.GetCore(); core != nil {
		out = append(out, driven.RateLimit{
			Resource:  "core",
			Limit:     core.Limit,
			Remaining: core.Remaining,
			ResetAt:   core.Reset.Time.UTC(),
		})
	}
	if graphql := limits.GetGraphQL(); graphql != nil {
		out = append(out, driven.RateLimit{
			Resource:  "graphql",
			Limit:     graphql.Limit,
			Remaining: graphql.Remaining,
			ResetAt:   graphql.Reset.Time.UTC(),
		})
	}
	return out, nil
}

// logRateLimit logs the current rate limit state from a GitHub API response.
func logRateLimit(resp *gh.Response, what string, page, count int) {
	if resp == nil {
		return
	}
	slog.Debug("github api call",
		"resource", what,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)
}

func isNotFound(resp *gh.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// sizedAvatar asks GitHub for a 32px avatar.
func sizedAvatar(avatarURL string) string {
	if avatarURL == "" {
		return ""
	}
	if strings.Contains(avatarURL, "?") {
		return avatarURL + "&s=32"
	}
	return avatarURL + "?s=32"
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

// errNotFoundFromGraphQL maps GitHub's "Could not resolve" GraphQL error.
func errNotFoundFromGraphQL(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Could not resolve to a Repository")
}

