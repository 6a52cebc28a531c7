package application

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// --- Mock backend ---

type mockBackend struct {
	name string

	mu       sync.Mutex
	groups   map[string][]string
	users    map[string][]string
	infos    map[string]*model.RepositoryInfo
	releases map[string][]model.DiscoveredRelease
	errs     map[string]error // Keyed by slug or subject; returned instead of data.

	listCalls    atomic.Int32
	infoCalls    atomic.Int32
	releaseCalls atomic.Int32
}

func newMockBackend(name string) *mockBackend {
	return &mockBackend{
		name:     name,
		groups:   map[string][]string{},
		users:    map[string][]string{},
		infos:    map[string]*model.RepositoryInfo{},
		releases: map[string][]model.DiscoveredRelease{},
		errs:     map[string]error{},
	}
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) addRepo(slug string, rels ...model.DiscoveredRelease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[slug] = &model.RepositoryInfo{
		Slug: slug,
		Name: path.Base(slug),
		URL:  "https://example.com/" + slug,
	}
	m.releases[slug] = rels
}

func (m *mockBackend) setUser(user string, slugs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user] = slugs
}

func (m *mockBackend) setGroup(group string, slugs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group] = slugs
}

func (m *mockBackend) setReleases(slug string, rels ...model.DiscoveredRelease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[slug] = rels
}

func (m *mockBackend) fail(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, key)
		return
	}
	m.errs[key] = err
}

func (m *mockBackend) ListGroupRepositories(_ context.Context, group string, _ model.TrackingParams) ([]string, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[group]; err != nil {
		return nil, err
	}
	return append([]string(nil), m.groups[group]...), nil
}

func (m *mockBackend) ListUserRepositories(_ context.Context, user string, _ model.TrackingParams) ([]string, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[user]; err != nil {
		return nil, err
	}
	return append([]string(nil), m.users[user]...), nil
}

func (m *mockBackend) RepositoryInfo(_ context.Context, slug string, _ model.TrackingParams) (*model.RepositoryInfo, error) {
	m.infoCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["info:"+slug]; err != nil {
		return nil, err
	}
	info, ok := m.infos[slug]
	if !ok {
		return nil, driven.ErrNotFound
	}
	cp := *info
	return &cp, nil
}

func (m *mockBackend) RepositoryReleases(_ context.Context, slug string, q driven.ReleaseQuery) ([]model.DiscoveredRelease, error) {
	m.releaseCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[slug]; err != nil {
		return nil, err
	}
	rels := m.releases[slug]
	if q.Limit > 0 && len(rels) > q.Limit {
		rels = rels[:q.Limit]
	}
	return append([]model.DiscoveredRelease(nil), rels...), nil
}

// --- In-memory stores ---

type memStore struct {
	mu sync.Mutex

	nextID       int64
	trackings    map[int64]model.Tracking
	members      map[int64]map[int64]bool
	repos        map[int64]model.Repository
	releases     map[int64][]model.Release
	announced    map[int64]map[int64]driven.Announcement
	failListings bool
}

func newMemStore() *memStore {
	return &memStore{
		trackings: map[int64]model.Tracking{},
		members:   map[int64]map[int64]bool{},
		repos:     map[int64]model.Repository{},
		releases:  map[int64][]model.Release{},
		announced: map[int64]map[int64]driven.Announcement{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func timePtr(t time.Time) *time.Time { return &t }

// TrackingStore

func (s *memStore) Add(_ context.Context, t model.Tracking) (model.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trackings {
		if existing.Key() == t.Key() {
			return model.Tracking{}, driven.ErrTrackingExists
		}
	}
	t.ID = s.id()
	s.trackings[t.ID] = t
	return t, nil
}

func (s *memStore) Update(_ context.Context, t model.Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.trackings[t.ID]
	if !ok {
		return driven.ErrTrackingNotFound
	}
	if old.Object != t.Object {
		delete(s.members, t.ID)
	}
	s.trackings[t.ID] = t
	return nil
}

func (s *memStore) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trackings[id]; !ok {
		return driven.ErrTrackingNotFound
	}
	delete(s.trackings, id)
	delete(s.members, id)
	delete(s.announced, id)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*model.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackings[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *memStore) GetByKey(_ context.Context, key model.TrackingKey) (*model.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trackings {
		if t.Key() == key {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListAll(_ context.Context) ([]model.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Tracking, 0, len(s.trackings))
	for _, t := range s.trackings {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListMembers(_ context.Context, trackingID int64) ([]model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListings {
		return nil, fmt.Errorf("disk I/O error")
	}
	var out []model.Repository
	for id := range s.members[trackingID] {
		out = append(out, s.repos[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *memStore) ReconcileMembers(_ context.Context, trackingID int64, change driven.MembershipChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackings[trackingID]
	if !ok {
		return driven.ErrTrackingNotFound
	}
	set := s.members[trackingID]
	if set == nil {
		set = map[int64]bool{}
		s.members[trackingID] = set
	}
	for _, id := range change.Add {
		set[id] = true
	}
	for _, id := range change.Remove {
		delete(set, id)
	}
	t.LastUpdate = timePtr(change.LastUpdate)
	t.NextUpdate = timePtr(change.NextUpdate)
	s.trackings[trackingID] = t
	return nil
}

func (s *memStore) memberIDs(trackingID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.members[trackingID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// repoStore adapts memStore to driven.RepositoryStore; its GetByID would
// otherwise clash with the tracking lookup.
type repoStore struct{ *memStore }

func (r repoStore) GetBySlug(_ context.Context, backend, slug string) (*model.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, repo := range r.repos {
		if repo.Backend == backend && repo.Slug == slug {
			return &repo, nil
		}
	}
	return nil, nil
}

func (r repoStore) GetByID(_ context.Context, id int64) (*model.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.repos[id]
	if !ok {
		return nil, nil
	}
	return &repo, nil
}

func (r repoStore) UpsertMetadata(_ context.Context, backend string, info model.RepositoryInfo, last, next time.Time) (*model.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var repo model.Repository
	for _, existing := range r.repos {
		if existing.Backend == backend && existing.Slug == info.Slug {
			repo = existing
		}
	}
	if repo.ID == 0 {
		repo.ID = r.id()
		repo.Backend = backend
		repo.Slug = info.Slug
	}
	repo.Name = info.Name
	repo.Namespace = info.Namespace
	repo.URL = info.URL
	repo.AvatarURL = info.AvatarURL
	repo.Params = model.RepositoryParams{Allow: info.Allow}
	repo.LastMetadataUpdate = timePtr(last)
	repo.NextMetadataUpdate = timePtr(next)
	r.repos[repo.ID] = repo
	return &repo, nil
}

func (r repoStore) SetReleaseSchedule(_ context.Context, id int64, last, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.repos[id]
	if !ok {
		return fmt.Errorf("repository %d: %w", id, driven.ErrNotFound)
	}
	repo.LastUpdate = timePtr(last)
	repo.NextUpdate = timePtr(next)
	r.repos[id] = repo
	return nil
}

func (r repoStore) repo(id int64) model.Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repos[id]
}

// ReleaseStore

func (s *memStore) Insert(_ context.Context, repositoryID int64, rels []model.DiscoveredRelease, policy model.ConflictPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int
outer:
	for _, d := range rels {
		for i, existing := range s.releases[repositoryID] {
			if existing.Version == d.Version {
				if policy == model.ConflictUpdate {
					s.releases[repositoryID][i] = toRelease(existing.ID, repositoryID, d)
				}
				continue outer
			}
		}
		s.releases[repositoryID] = append(s.releases[repositoryID], toRelease(s.id(), repositoryID, d))
		inserted++
	}
	return inserted, nil
}

func toRelease(id, repositoryID int64, d model.DiscoveredRelease) model.Release {
	return model.Release{
		ID:           id,
		RepositoryID: repositoryID,
		Version:      d.Version,
		Name:         d.Name,
		CommitSHA:    d.CommitSHA,
		PublishedAt:  d.PublishedAt,
		Notes:        d.Notes,
		URL:          d.URL,
		Kind:         d.Kind,
	}
}

func (s *memStore) Latest(_ context.Context, repositoryID int64) (*model.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Release
	for _, rel := range s.releases[repositoryID] {
		if latest == nil || rel.PublishedAt.After(latest.PublishedAt) ||
			(rel.PublishedAt.Equal(latest.PublishedAt) && rel.ID > latest.ID) {
			r := rel
			latest = &r
		}
	}
	return latest, nil
}

func (s *memStore) ListByRepository(_ context.Context, repositoryID int64, limit int) ([]model.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.Release(nil), s.releases[repositoryID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) releaseCount(repositoryID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases[repositoryID])
}

// AnnouncementStore

type announceStore struct{ *memStore }

func (a announceStore) ListByTracking(_ context.Context, trackingID int64) (map[int64]driven.Announcement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int64]driven.Announcement, len(a.announced[trackingID]))
	for k, v := range a.announced[trackingID] {
		out[k] = v
	}
	return out, nil
}

func (a announceStore) Record(_ context.Context, ann driven.Announcement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.announced[ann.TrackingID] == nil {
		a.announced[ann.TrackingID] = map[int64]driven.Announcement{}
	}
	a.announced[ann.TrackingID][ann.RepositoryID] = ann
	return nil
}

// --- Notifier ---

type recordingNotifier struct {
	mu    sync.Mutex
	views []model.ReleaseView
}

func (n *recordingNotifier) Notify(_ context.Context, _ model.Tracking, v model.ReleaseView) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.views = append(n.views, v)
	return nil
}

func (n *recordingNotifier) notified() []model.ReleaseView {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.ReleaseView(nil), n.views...)
}

var (
	_ driven.Backend           = (*mockBackend)(nil)
	_ driven.TrackingStore     = (*memStore)(nil)
	_ driven.RepositoryStore   = repoStore{}
	_ driven.ReleaseStore      = (*memStore)(nil)
	_ driven.AnnouncementStore = announceStore{}
	_ driven.ReleaseNotifier   = (*recordingNotifier)(nil)
)
