// Package git implements the release backend for plain git remotes. Tags are
// fetched into bare mirrors with go-git. Only single repositories can be tracked.
package git

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/mod/semver"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// Name is the backend name subjects refer to.
const Name = "git"

const defaultAvatar = "https://git-scm.com/images/logos/downloads/Git-Icon-1788C.png"

var (
	_ driven.Backend             = (*Client)(nil)
	_ driven.RepositoryValidator = (*Client)(nil)
)

// Schemes a git subject may use. The "git+" prefix is stripped before the URL
// reaches the transport.
var schemes = map[string]bool{
	"git":       true,
	"git+http":  true,
	"git+https": true,
	"git+ssh":   true,
	"git+file":  true,
}

// tagRefSpec mirrors every tag of the remote, moved tags included.
const tagRefSpec = config.RefSpec("+refs/tags/*:refs/tags/*")

// Option customizes a Client.
type Option func(*Client)

// WithCacheDir sets the directory holding the bare tag mirrors.
func WithCacheDir(dir string) Option {
	return func(c *Client) { c.cacheDir = dir }
}

// Client implements driven.Backend on top of go-git.
type Client struct {
	cacheDir string

	locks sync.Map // mirror dir -> *sync.Mutex
}

// NewClient creates a git backend. Mirrors live under the user cache directory
// unless WithCacheDir says otherwise.
func NewClient(opts ...Option) *Client {
	c := &Client{}
	if dir, err := os.UserCacheDir(); err == nil {
		c.cacheDir = filepath.Join(dir, "releasetracker", "git")
	} else {
		c.cacheDir = filepath.Join(os.TempDir(), "releasetracker-git")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "git".
func (c *Client) Name() string { return Name }

// ListGroupRepositories is not supported by plain git remotes.
func (c *Client) ListGroupRepositories(context.Context, string, model.TrackingParams) ([]string, error) {
	return nil, driven.ErrNotImplemented
}

// ListUserRepositories is not supported by plain git remotes.
func (c *Client) ListUserRepositories(context.Context, string, model.TrackingParams) ([]string, error) {
	return nil, driven.ErrNotImplemented
}

// remote parses a subject URL and returns the URL the transport should use
// together with its credentials.
func remote(slug string, params model.TrackingParams) (*url.URL, string, transport.AuthMethod, error) {
	u, err := url.Parse(slug)
	if err != nil {
		return nil, "", nil, fmt.Errorf("parsing %q: %w", slug, driven.ErrNotFound)
	}
	if !schemes[u.Scheme] {
		return nil, "", nil, fmt.Errorf("unsupported git scheme %q: %w", u.Scheme, driven.ErrNotFound)
	}

	r := *u
	r.Scheme = strings.TrimPrefix(u.Scheme, "git+")

	var auth transport.AuthMethod
	if params.Token != "" && (r.Scheme == "http" || r.Scheme == "https") {
		auth = &githttp.BasicAuth{Username: "oauth2", Password: params.Token}
	}
	return u, r.String(), auth, nil
}

// ValidateRepository checks that the remote advertises its references.
func (c *Client) ValidateRepository(ctx context.Context, slug string, params model.TrackingParams) error {
	_, remoteURL, auth, err := remote(slug, params)
	if err != nil {
		return err
	}

	rem := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{Name: "origin", URLs: []string{remoteURL}})
	_, err = rem.ListContext(ctx, &gogit.ListOptions{Auth: auth})
	switch {
	case err == nil, errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%s is not a reachable repository (%v): %w", redact(slug), err, driven.ErrNotFound)
	}
}

// redact drops credentials from a URL before it is logged or returned in errors.
func redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Redacted()
}

// RepositoryInfo derives metadata from the URL alone. Plain remotes carry
// only tags, so the repository is marked as producing tag kinds.
func (c *Client) RepositoryInfo(_ context.Context, slug string, params model.TrackingParams) (*model.RepositoryInfo, error) {
	parsed, _, _, err := remote(slug, params)
	if err != nil {
		return nil, err
	}

	p := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), ".git")
	if p == "" {
		return nil, fmt.Errorf("%s names no repository: %w", redact(slug), driven.ErrNotFound)
	}

	namespace := path.Dir(p)
	if namespace == "." {
		namespace = ""
	}

	web := ""
	switch parsed.Scheme {
	case "git+http", "git+https":
		web = (&url.URL{Scheme: strings.TrimPrefix(parsed.Scheme, "git+"), Host: parsed.Host, Path: "/" + p}).String()
	}

	return &model.RepositoryInfo{
		Slug:      slug,
		Name:      path.Base(p),
		Namespace: namespace,
		URL:       web,
		AvatarURL: defaultAvatar,
		Allow:     []model.ReleaseKind{model.ReleaseKindTag, model.ReleaseKindLightweightTag},
	}, nil
}

// mirror returns the bare repository directory for a remote and a held lock on it.
func (c *Client) mirror(remoteURL string) (string, func()) {
	sum := sha256.Sum256([]byte(remoteURL))
	dir := filepath.Join(c.cacheDir, hex.EncodeToString(sum[:12])+".git")

	v, _ := c.locks.LoadOrStore(dir, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return dir, mu.Unlock
}

type tagRecord struct {
	name      string
	annotated bool
	commit    string
	date      time.Time
	subject   string
	body      string
}

// RepositoryReleases fetches the tags of the remote into a bare mirror and
// reports annotated tags as tag and the rest as lightweight_tag.
func (c *Client) RepositoryReleases(ctx context.Context, slug string, q driven.ReleaseQuery) ([]model.DiscoveredRelease, error) {
	_, remoteURL, auth, err := remote(slug, q.Params)
	if err != nil {
		return nil, err
	}

	dir, unlock := c.mirror(remoteURL)
	defer unlock()

	repo, err := openMirror(dir)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := fetchTags(ctx, repo, remoteURL, auth); err != nil {
		return nil, fmt.Errorf("fetching tags of %s: %w", redact(slug), err)
	}
	slog.Debug("git tags fetched", "repo", redact(slug), "duration", time.Since(start))

	tags, err := readTags(repo)
	if err != nil {
		return nil, fmt.Errorf("reading tags of %s: %w", redact(slug), err)
	}

	return selectReleases(tags, q.Allow, max(q.Limit, 1), q.Params.StrictSemver), nil
}

func openMirror(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating mirror directory: %w", err)
	}
	repo, err = gogit.PlainInit(dir, true)
	if err != nil {
		return nil, fmt.Errorf("initializing mirror: %w", err)
	}
	return repo, nil
}

// fetchTags updates the mirror's tags through an anonymous remote, so the URL
// and its credentials never land in the mirror's config.
func fetchTags(ctx context.Context, repo *gogit.Repository, remoteURL string, auth transport.AuthMethod) error {
	rem, err := repo.CreateRemoteAnonymous(&config.RemoteConfig{Name: "anonymous", URLs: []string{remoteURL}})
	if err != nil {
		return fmt.Errorf("creating remote: %w", err)
	}

	err = rem.FetchContext(ctx, &gogit.FetchOptions{
		RefSpecs: []config.RefSpec{tagRefSpec},
		Tags:     gogit.NoTags,
		Auth:     auth,
		Force:    true,
		Prune:    true,
	})
	var noMatch gogit.NoMatchingRefSpecError
	switch {
	case err == nil,
		errors.Is(err, gogit.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.As(err, &noMatch):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}

// readTags resolves every tag of the mirror to its commit and date. Tags that
// point at neither a commit nor an annotated tag of a commit are skipped.
func readTags(repo *gogit.Repository) ([]tagRecord, error) {
	refs, err := repo.Tags()
	if err != nil {
		return nil, err
	}

	var tags []tagRecord
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()

		tag, err := repo.TagObject(ref.Hash())
		switch {
		case err == nil:
			commit, err := tag.Commit()
			if err != nil {
				slog.Debug("skipping tag without commit", "tag", name, "error", err)
				return nil
			}
			subject, body := splitMessage(tag.Message)
			tags = append(tags, tagRecord{
				name:      name,
				annotated: true,
				commit:    commit.Hash.String(),
				date:      tag.Tagger.When.UTC(),
				subject:   subject,
				body:      body,
			})
		case errors.Is(err, plumbing.ErrObjectNotFound):
			commit, err := repo.CommitObject(ref.Hash())
			if err != nil {
				slog.Debug("skipping tag without commit", "tag", name, "error", err)
				return nil
			}
			tags = append(tags, tagRecord{
				name:   name,
				commit: commit.Hash.String(),
				date:   commit.Committer.When.UTC(),
			})
		default:
			return fmt.Errorf("tag %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// splitMessage returns the first paragraph of a tag message as its subject
// and the rest as its body.
func splitMessage(msg string) (string, string) {
	msg = strings.TrimSpace(msg)
	subject, body, _ := strings.Cut(msg, "\n\n")
	return strings.Join(strings.Fields(subject), " "), strings.TrimSpace(body)
}

// semverOf returns the canonical form of a strict major.minor.patch tag.
func semverOf(tag string) (string, bool) {
	v := tag
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	core, _, _ := strings.Cut(strings.SplitN(v, "+", 2)[0], "-")
	if strings.Count(core, ".") != 2 {
		return "", false
	}
	return v, true
}

// selectReleases filters by kind, keeps the newest limit tags and returns them
// oldest first. Strict mode drops non-semver tags and orders by precedence.
func selectReleases(tags []tagRecord, allow []model.ReleaseKind, limit int, strict bool) []model.DiscoveredRelease {
	type candidate struct {
		tagRecord
		kind    model.ReleaseKind
		version string
	}

	var cands []candidate
	for _, t := range tags {
		kind := model.ReleaseKindLightweightTag
		if t.annotated {
			kind = model.ReleaseKindTag
		}
		if !model.KindAllowed(allow, kind) {
			continue
		}
		c := candidate{tagRecord: t, kind: kind}
		if strict {
			v, ok := semverOf(t.name)
			if !ok {
				continue
			}
			c.version = v
		}
		cands = append(cands, c)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if strict {
			if cmp := semver.Compare(cands[i].version, cands[j].version); cmp != 0 {
				return cmp < 0
			}
		}
		if !cands[i].date.Equal(cands[j].date) {
			return cands[i].date.Before(cands[j].date)
		}
		return cands[i].name < cands[j].name
	})

	if len(cands) > limit {
		cands = cands[len(cands)-limit:]
	}

	out := make([]model.DiscoveredRelease, 0, len(cands))
	for _, c := range cands {
		out = append(out, model.DiscoveredRelease{
			Version:     c.name,
			Name:        c.subject,
			CommitSHA:   c.commit,
			PublishedAt: c.date,
			Notes:       c.body,
			Kind:        c.kind,
		})
	}
	return out
}
