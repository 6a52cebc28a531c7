package gitlab_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releasetracker/internal/adapter/driven/gitlab"
	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// newTestServer starts a fake GitLab GraphQL endpoint. respond picks the
// response body for each request. The returned host serves as the instance.
func newTestServer(t *testing.T, respond func(t *testing.T, req gqlRequest, auth string) string) (*httptest.Server, string) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, respond(t, req, r.Header.Get("Authorization")))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, strings.TrimPrefix(server.URL, "http://")
}

func newTestClient(t *testing.T, respond func(t *testing.T, req gqlRequest, auth string) string) (*gitlab.Client, string) {
	t.Helper()

	server, host := newTestServer(t, respond)
	client := gitlab.NewClient("",
		gitlab.WithHTTPClient(server.Client()),
		gitlab.WithScheme("http"),
	)
	return client, host
}

func TestListGroupRepositories(t *testing.T) {
	client, host := newTestClient(t, func(t *testing.T, req gqlRequest, _ string) string {
		assert.Contains(t, req.Query, "namespace(fullPath: $fullPath)")
		assert.Contains(t, req.Query, "$fullPath:ID!")
		assert.Equal(t, "acme/tools", req.Variables["fullPath"])
		return `{"data":{"namespace":{"projects":{"nodes":[{"fullPath":"acme/tools/z"},{"fullPath":"acme/tools/a"}]}}}}`
	})

	slugs, err := client.ListGroupRepositories(context.Background(), host+":acme/tools", model.TrackingParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{host + ":acme/tools/a", host + ":acme/tools/z"}, slugs)
}

func TestListGroupRepositories_UnknownNamespace(t *testing.T) {
	client, host := newTestClient(t, func(*testing.T, gqlRequest, string) string {
		return `{"data":{"namespace":null}}`
	})

	_, err := client.ListGroupRepositories(context.Background(), "nobody", model.TrackingParams{Instance: host})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestListUserRepositories_NeedsToken(t *testing.T) {
	called := false
	client, host := newTestClient(t, func(*testing.T, gqlRequest, string) string {
		called = true
		return `{}`
	})

	_, err := client.ListUserRepositories(context.Background(), "alice", model.TrackingParams{Instance: host})
	require.Error(t, err)
	assert.False(t, called)
}

func TestListUserRepositories_WithInstanceToken(t *testing.T) {
	server, host := newTestServer(t, func(t *testing.T, req gqlRequest, auth string) string {
		assert.Equal(t, "Bearer instance-token", auth)
		assert.Equal(t, "alice", req.Variables["username"])
		return `{"data":{"user":{"starredProjects":{"nodes":[{"fullPath":"org/b"},{"fullPath":"org/a"}]}}}}`
	})
	client := gitlab.NewClient("",
		gitlab.WithHTTPClient(server.Client()),
		gitlab.WithScheme("http"),
		gitlab.WithInstanceTokens(map[string]string{host: "instance-token"}),
	)

	slugs, err := client.ListUserRepositories(context.Background(), "alice", model.TrackingParams{Instance: host})
	require.NoError(t, err)
	assert.Equal(t, []string{host + ":org/a", host + ":org/b"}, slugs)
}

func TestRepositoryInfo_FallsBackToGroup(t *testing.T) {
	client, host := newTestClient(t, func(*testing.T, gqlRequest, string) string {
		return `{"data":{"project":{
			"fullPath":"acme/tool","name":"Tool","avatarUrl":null,"webUrl":"https://gitlab.example.com/acme/tool",
			"group":{"fullPath":"acme","avatarUrl":"https://gitlab.example.com/acme.png"},
			"namespace":null
		}}}`
	})

	info, err := client.RepositoryInfo(context.Background(), host+":acme/tool", model.TrackingParams{})
	require.NoError(t, err)
	assert.Equal(t, &model.RepositoryInfo{
		Slug:      host + ":acme/tool",
		Name:      "Tool",
		Namespace: "acme",
		URL:       "https://gitlab.example.com/acme/tool",
		AvatarURL: "https://gitlab.example.com/acme.png",
	}, info)
}

func TestRepositoryInfo_NotFound(t *testing.T) {
	client, host := newTestClient(t, func(*testing.T, gqlRequest, string) string {
		return `{"data":{"project":null}}`
	})

	_, err := client.RepositoryInfo(context.Background(), host+":acme/gone", model.TrackingParams{})
	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestRepositoryReleases(t *testing.T) {
	client, host := newTestClient(t, func(t *testing.T, req gqlRequest, auth string) string {
		assert.Equal(t, "Bearer subject-token", auth)
		assert.Contains(t, req.Query, "releases(last: $window, sort: RELEASED_AT_ASC)")
		assert.EqualValues(t, driven.ReleaseWindow, req.Variables["window"])
		return `{"data":{"project":{"releases":{"nodes":[
			{"tagName":"v1.0","name":"One","commit":{"sha":"abc"},"releasedAt":"2026-01-01T00:00:00Z",
			 "description":"first","upcomingRelease":false,"links":{"selfUrl":"https://gitlab.example.com/r/v1.0"}},
			{"tagName":"v2.0","name":"Two","commit":null,"releasedAt":"2026-06-01T00:00:00Z",
			 "description":"","upcomingRelease":true,"links":null}
		]}}}}`
	})

	params := model.TrackingParams{Token: "subject-token"}
	rels, err := client.RepositoryReleases(context.Background(), host+":acme/tool", driven.ReleaseQuery{
		Params: params,
		Limit:  2,
		Allow:  []model.ReleaseKind{model.ReleaseKindRelease, model.ReleaseKindPrerelease},
	})
	require.NoError(t, err)
	require.Len(t, rels, 2)

	assert.Equal(t, model.DiscoveredRelease{
		Version:     "v1.0",
		Name:        "One",
		CommitSHA:   "abc",
		PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Notes:       "first",
		URL:         "https://gitlab.example.com/r/v1.0",
		Kind:        model.ReleaseKindRelease,
	}, rels[0])
	assert.Equal(t, model.ReleaseKindPrerelease, rels[1].Kind)

	rels, err = client.RepositoryReleases(context.Background(), host+":acme/tool", driven.ReleaseQuery{Params: params, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "v1.0", rels[0].Version)
}

func TestRepositoryReleases_UpcomingDoesNotHideOlderRelease(t *testing.T) {
	client, host := newTestClient(t, func(t *testing.T, req gqlRequest, _ string) string {
		window, ok := req.Variables["window"].(float64)
		require.True(t, ok)
		nodes := []string{
			`{"tagName":"v1.0","name":"One","releasedAt":"2026-01-01T00:00:00Z","upcomingRelease":false}`,
			`{"tagName":"v2.0","name":"Two","releasedAt":"2026-06-01T00:00:00Z","upcomingRelease":true}`,
		}
		// last: $window keeps the newest entries.
		nodes = nodes[max(0, len(nodes)-int(window)):]
		return `{"data":{"project":{"releases":{"nodes":[` + strings.Join(nodes, ",") + `]}}}}`
	})

	rels, err := client.RepositoryReleases(context.Background(), host+":acme/tool", driven.ReleaseQuery{
		Allow: model.DefaultAllowedKinds(),
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "v1.0", rels[0].Version)
}
