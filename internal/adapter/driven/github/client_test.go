package github_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/releasetracker/internal/adapter/driven/github"
	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler, token string) (*ghAdapter.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(server.Client(), server.URL+"/", token)
	require.NoError(t, err)

	return client, server
}

func TestListGroupRepositories_Paginates(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"full_name":"acme/c"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/acme/repos?page=2>; rel="next"`, server.URL))
		fmt.Fprint(w, `[{"full_name":"acme/a"},{"full_name":"acme/b"}]`)
	})

	client, srv := newTestClient(t, mux, "")
	server = srv

	slugs, err := client.ListGroupRepositories(context.Background(), "acme", model.TrackingParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/a", "acme/b", "acme/c"}, slugs)
}

func TestListGroupRepositories_FallsBackToUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/alice/repos", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("GET /users/alice/repos", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"full_name":"alice/dotfiles"}]`)
	})

	client, _ := newTestClient(t, mux, "")

	slugs, err := client.ListGroupRepositories(context.Background(), "alice", model.TrackingParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/dotfiles"}, slugs)
}

func TestListGroupRepositories_UnknownGroup(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), "")

	_, err := client.ListGroupRepositories(context.Background(), "nobody", model.TrackingParams{})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestListUserRepositories_Stars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/alice/starred", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"starred_at":"2026-01-01T00:00:00Z","repo":{"full_name":"org/a"}},
			{"starred_at":"2026-01-02T00:00:00Z","repo":{"full_name":"org/b"}}
		]`)
	})

	client, _ := newTestClient(t, mux, "")

	slugs, err := client.ListUserRepositories(context.Background(), "alice", model.TrackingParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"org/a", "org/b"}, slugs)
}

func TestRepositoryInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/org/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"full_name": "org/a",
			"name": "a",
			"html_url": "https://github.com/org/a",
			"owner": {"login": "org", "avatar_url": "https://avatars.githubusercontent.com/u/1?v=4"}
		}`)
	})

	client, _ := newTestClient(t, mux, "")

	info, err := client.RepositoryInfo(context.Background(), "org/a", model.TrackingParams{})
	require.NoError(t, err)
	assert.Equal(t, &model.RepositoryInfo{
		Slug:      "org/a",
		Name:      "a",
		Namespace: "org",
		URL:       "https://github.com/org/a",
		AvatarURL: "https://avatars.githubusercontent.com/u/1?v=4&s=32",
	}, info)

	_, err = client.RepositoryInfo(context.Background(), "org/missing", model.TrackingParams{})
	assert.ErrorIs(t, err, driven.ErrNotFound)

	_, err = client.RepositoryInfo(context.Background(), "not-a-slug", model.TrackingParams{})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestRepositoryReleases_RESTWithoutToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/org/a/releases", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"tag_name":"v2.0.0-rc1","name":"RC","prerelease":true,"published_at":"2026-03-03T00:00:00Z","html_url":"https://github.com/org/a/releases/tag/v2.0.0-rc1"},
			{"tag_name":"v1.1.0","name":"v1.1.0","published_at":"2026-03-02T00:00:00Z","body":"notes","target_commitish":"main","html_url":"https://github.com/org/a/releases/tag/v1.1.0"},
			{"tag_name":"v1.2.0","draft":true,"created_at":"2026-03-04T00:00:00Z"},
			{"tag_name":"v1.0.0","name":"First","published_at":"2026-03-01T00:00:00Z","html_url":"https://github.com/org/a/releases/tag/v1.0.0"}
		]`)
	})

	client, _ := newTestClient(t, mux, "")

	rels, err := client.RepositoryReleases(context.Background(), "org/a", driven.ReleaseQuery{Limit: 3})
	require.NoError(t, err)

	require.Len(t, rels, 2)
	assert.Equal(t, "v1.0.0", rels[0].Version)
	assert.Equal(t, "First", rels[0].Name)
	assert.Equal(t, "v1.1.0", rels[1].Version)
	assert.Equal(t, "notes", rels[1].Notes)
	assert.Equal(t, model.ReleaseKindRelease, rels[1].Kind)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), rels[1].PublishedAt)

	rels, err = client.RepositoryReleases(context.Background(), "org/a", driven.ReleaseQuery{
		Limit: 3,
		Allow: []model.ReleaseKind{model.ReleaseKindPrerelease},
	})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.ReleaseKindPrerelease, rels[0].Kind)
}

func TestRepositoryReleases_PrereleaseDoesNotHideOlderRelease(t *testing.T) {
	releases := []string{
		`{"tag_name":"v2.0.0-rc1","prerelease":true,"published_at":"2026-03-02T00:00:00Z"}`,
		`{"tag_name":"v1.0.0","published_at":"2026-03-01T00:00:00Z"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/org/a/releases", func(w http.ResponseWriter, r *http.Request) {
		perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
		require.NoError(t, err)
		page := releases[:min(perPage, len(releases))]

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "["+strings.Join(page, ",")+"]")
	})

	client, _ := newTestClient(t, mux, "")

	rels, err := client.RepositoryReleases(context.Background(), "org/a", driven.ReleaseQuery{
		Allow: model.DefaultAllowedKinds(),
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "v1.0.0", rels[0].Version)
	assert.Equal(t, model.ReleaseKindRelease, rels[0].Kind)
}

func TestRepositoryReleases_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), "")

	_, err := client.RepositoryReleases(context.Background(), "org/gone", driven.ReleaseQuery{Limit: 1})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestRateLimits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rate_limit", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"resources":{
			"core":{"limit":5000,"remaining":4990,"reset":1773489600},
			"graphql":{"limit":5000,"remaining":12,"reset":1773489600}
		}}`)
	})

	client, _ := newTestClient(t, mux, "test-token")

	limits, err := client.RateLimits(context.Background())
	require.NoError(t, err)
	require.Len(t, limits, 2)
	assert.Equal(t, driven.RateLimit{
		Resource:  "core",
		Limit:     5000,
		Remaining: 4990,
		ResetAt:   time.Unix(1773489600, 0).UTC(),
	}, limits[0])
	assert.Equal(t, "graphql", limits[1].Resource)
	assert.Equal(t, 12, limits[1].Remaining)
}

func TestTokenOverride(t *testing.T) {
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/org/private", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"full_name":"org/private","name":"private","owner":{"login":"org"}}`)
	})

	client, _ := newTestClient(t, mux, "default-token")
	ctx := context.Background()

	_, err := client.RepositoryInfo(ctx, "org/private", model.TrackingParams{})
	require.NoError(t, err)
	_, err = client.RepositoryInfo(ctx, "org/private", model.TrackingParams{Token: "subject-token"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer default-token", "Bearer subject-token"}, seen)
}
