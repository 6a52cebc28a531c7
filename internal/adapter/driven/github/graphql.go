package github

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shurcooL/githubv4"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// releasesQuery fetches the newest formal releases and the newest tag refs of
// a repository in one round trip.
type releasesQuery struct {
	Repository struct {
		Releases struct {
			Nodes []struct {
				TagName      string
				Name         string
				Description  string
				URL          githubv4.URI `graphql:"url"`
				CreatedAt    githubv4.DateTime
				PublishedAt  *githubv4.DateTime
				IsPrerelease bool
				IsDraft      bool
				TagCommit    *struct {
					Oid githubv4.GitObjectID
				}
			}
		} `graphql:"releases(first: $releaseWindow, orderBy: {field: CREATED_AT, direction: DESC})"`
		Refs struct {
			Nodes []struct {
				Name   string
				Target struct {
					Typename string `graphql:"__typename"`
					Commit   struct {
						Oid           githubv4.GitObjectID
						CommittedDate githubv4.DateTime
					} `graphql:"... on Commit"`
					Tag struct {
						Message string
						Tagger  *struct {
							Date *githubv4.GitTimestamp
						}
						Target struct {
							Oid githubv4.GitObjectID
						}
					} `graphql:"... on Tag"`
				}
			}
		} `graphql:"refs(refPrefix: \"refs/tags/\", first: $tagWindow, orderBy: {field: TAG_COMMIT_DATE, direction: DESC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// graphqlReleases maps releases and tag refs to discovered releases. Tags that
// carry a formal release are reported once, as the release. Annotated tags
// become ReleaseKindTag; tags pointing straight at a commit become
// ReleaseKindLightweightTag. The tag window is twice the release window
// because tags of the fetched releases occupy part of it.
func (c *Client) graphqlReleases(ctx context.Context, owner, repo string, window int) ([]model.DiscoveredRelease, error) {
	var q releasesQuery
	vars := map[string]any{
		"owner":         githubv4.String(owner),
		"name":          githubv4.String(repo),
		"releaseWindow": githubv4.Int(window),
		"tagWindow":     githubv4.Int(2 * window),
	}

	if err := c.gql.Query(ctx, &q, vars); err != nil {
		if errNotFoundFromGraphQL(err) {
			return nil, fmt.Errorf("repository %s/%s: %w", owner, repo, driven.ErrNotFound)
		}
		return nil, fmt.Errorf("querying releases of %s/%s: %w", owner, repo, err)
	}

	releaseTags := make(map[string]bool)
	var out []model.DiscoveredRelease

	for _, r := range q.Repository.Releases.Nodes {
		if r.IsDraft {
			continue
		}
		releaseTags[r.TagName] = true

		kind := model.ReleaseKindRelease
		if r.IsPrerelease {
			kind = model.ReleaseKindPrerelease
		}
		published := r.CreatedAt.Time
		if r.PublishedAt != nil {
			published = r.PublishedAt.Time
		}
		var commit string
		if r.TagCommit != nil {
			commit = string(r.TagCommit.Oid)
		}

		out = append(out, model.DiscoveredRelease{
			Version:     r.TagName,
			Name:        r.Name,
			CommitSHA:   commit,
			PublishedAt: published.UTC(),
			Notes:       r.Description,
			URL:         r.URL.String(),
			Kind:        kind,
		})
	}

	for _, ref := range q.Repository.Refs.Nodes {
		if releaseTags[ref.Name] {
			continue
		}

		rel := model.DiscoveredRelease{
			Version: ref.Name,
			Name:    ref.Name,
			URL:     tagURL(owner, repo, ref.Name),
		}
		switch ref.Target.Typename {
		case "Commit":
			rel.Kind = model.ReleaseKindLightweightTag
			rel.CommitSHA = string(ref.Target.Commit.Oid)
			rel.PublishedAt = ref.Target.Commit.CommittedDate.UTC()
		case "Tag":
			rel.Kind = model.ReleaseKindTag
			rel.CommitSHA = string(ref.Target.Tag.Target.Oid)
			rel.Notes = ref.Target.Tag.Message
			if t := ref.Target.Tag.Tagger; t != nil && t.Date != nil {
				rel.PublishedAt = t.Date.UTC()
			}
		default:
			continue
		}
		out = append(out, rel)
	}

	return out, nil
}

func tagURL(owner, repo, tag string) string {
	return fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", owner, repo, url.PathEscape(tag))
}
