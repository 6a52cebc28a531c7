package httphandler

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/application"
	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ParamsBody is the JSON form of the per-subject options.
type ParamsBody struct {
	Token        string   `json:"token,omitempty"`
	Allow        []string `json:"allow,omitempty"`
	Instance     string   `json:"instance,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	StrictSemver bool     `json:"strict_semver,omitempty"`
}

func (p ParamsBody) toModel() model.TrackingParams {
	out := model.TrackingParams{
		Token:        p.Token,
		Instance:     p.Instance,
		Limit:        p.Limit,
		StrictSemver: p.StrictSemver,
	}
	for _, a := range p.Allow {
		out.Allow = append(out.Allow, model.ReleaseKind(a))
	}
	return out
}

// AddTrackingRequest is the JSON body for the add tracking endpoint. Either
// URI or Backend, Kind and Object are set.
type AddTrackingRequest struct {
	RoomID  string     `json:"room_id"`
	URI     string     `json:"uri,omitempty"`
	Backend string     `json:"backend,omitempty"`
	Kind    string     `json:"kind,omitempty"`
	Object  string     `json:"object,omitempty"`
	Params  ParamsBody `json:"params"`
}

// ParamsPatchBody is the JSON form of a partial params change. Absent or
// null fields are left untouched; an empty string or list clears the field.
type ParamsPatchBody struct {
	Token        *string   `json:"token"`
	Allow        *[]string `json:"allow"`
	Instance     *string   `json:"instance"`
	Limit        *int      `json:"limit"`
	StrictSemver *bool     `json:"strict_semver"`
}

func (p ParamsPatchBody) toModel() model.TrackingParamsPatch {
	out := model.TrackingParamsPatch{
		Token:        p.Token,
		Instance:     p.Instance,
		Limit:        p.Limit,
		StrictSemver: p.StrictSemver,
	}
	if p.Allow != nil {
		kinds := make([]model.ReleaseKind, 0, len(*p.Allow))
		for _, a := range *p.Allow {
			kinds = append(kinds, model.ReleaseKind(a))
		}
		out.Allow = &kinds
	}
	return out
}

// UpdateTrackingRequest is the JSON body for the update tracking endpoint.
type UpdateTrackingRequest struct {
	Object *string          `json:"object,omitempty"`
	Params *ParamsPatchBody `json:"params,omitempty"`
}

// TrackingResponse is the JSON representation of a tracked subject. The
// token is reported only as present or absent.
type TrackingResponse struct {
	ID           int64    `json:"id"`
	RoomID       string   `json:"room_id"`
	Backend      string   `json:"backend"`
	Kind         string   `json:"kind"`
	Object       string   `json:"object"`
	Allow        []string `json:"allow"`
	Instance     string   `json:"instance,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	StrictSemver bool     `json:"strict_semver"`
	HasToken     bool     `json:"has_token"`
	LastUpdate   *string  `json:"last_update"`
	NextUpdate   *string  `json:"next_update"`
}

// ReleaseResponse is the JSON representation of a repository's newest release.
type ReleaseResponse struct {
	RepositoryID int64  `json:"repository_id"`
	Slug         string `json:"slug"`
	FullName     string `json:"full_name"`
	Namespace    string `json:"namespace,omitempty"`
	Name         string `json:"name"`
	RepoURL      string `json:"repo_url,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	Version      string `json:"version"`
	VersionName  string `json:"version_name"`
	Commit       string `json:"commit,omitempty"`
	AbbrevCommit string `json:"abbrev_commit,omitempty"`
	PublishedAt  string `json:"published_at"`
	Notes        string `json:"notes,omitempty"`
	ReleaseURL   string `json:"release_url,omitempty"`
	Kind         string `json:"kind"`
	Hash         string `json:"hash"`
}

// RateLimitResponse is one API budget of a backend.
type RateLimitResponse struct {
	Resource  string `json:"resource"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at,omitempty"`
	NearLimit bool   `json:"near_limit"`
}

// BackendStatusResponse describes one backend on the status endpoint.
type BackendStatusResponse struct {
	Name       string              `json:"name"`
	RateLimits []RateLimitResponse `json:"rate_limits"`
	Error      string              `json:"error,omitempty"`
}

// LastRunResponse is when LastReleases last completed for a subject.
type LastRunResponse struct {
	TrackingID int64  `json:"tracking_id"`
	At         string `json:"at"`
}

// StatusResponse is the JSON representation of the status endpoint.
type StatusResponse struct {
	CheckedAt string                  `json:"checked_at"`
	Tracking  int                     `json:"tracking"`
	Backends  []BackendStatusResponse `json:"backends"`
	LastRuns  []LastRunResponse       `json:"last_runs"`
}

// SetCredentialRequest is the JSON body for the set credential endpoint.
type SetCredentialRequest struct {
	Token string `json:"token"`
}

// CredentialListResponse lists the services that have a stored token.
type CredentialListResponse struct {
	Services []string `json:"services"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toTrackingResponse(t model.Tracking) TrackingResponse {
	allow := make([]string, 0, len(t.Params.Allow))
	for _, k := range t.Params.Allow {
		allow = append(allow, string(k))
	}
	return TrackingResponse{
		ID:           t.ID,
		RoomID:       t.RoomID,
		Backend:      t.Backend,
		Kind:         string(t.Kind),
		Object:       t.Object,
		Allow:        allow,
		Instance:     t.Params.Instance,
		Limit:        t.Params.Limit,
		StrictSemver: t.Params.StrictSemver,
		HasToken:     t.Params.Token != "",
		LastUpdate:   formatTime(t.LastUpdate),
		NextUpdate:   formatTime(t.NextUpdate),
	}
}

func toReleaseResponse(v model.ReleaseView) ReleaseResponse {
	return ReleaseResponse{
		RepositoryID: v.RepositoryID,
		Slug:         v.Slug,
		FullName:     v.FullName(),
		Namespace:    v.Namespace,
		Name:         v.Name,
		RepoURL:      v.RepoURL,
		AvatarURL:    v.AvatarURL,
		Version:      v.Version,
		VersionName:  v.DisplayVersion(),
		Commit:       v.CommitSHA,
		AbbrevCommit: v.AbbrevCommit(),
		PublishedAt:  v.PublishedAt.UTC().Format(time.RFC3339),
		Notes:        v.Notes,
		ReleaseURL:   v.ReleaseURL,
		Kind:         string(v.Kind),
		Hash:         v.StableHash(),
	}
}

func toStatusResponse(st application.Status) StatusResponse {
	resp := StatusResponse{
		CheckedAt: st.CheckedAt.UTC().Format(time.RFC3339),
		Tracking:  st.Tracking,
		Backends:  make([]BackendStatusResponse, 0, len(st.Backends)),
		LastRuns:  make([]LastRunResponse, 0, len(st.LastRuns)),
	}

	for _, b := range st.Backends {
		bs := BackendStatusResponse{
			Name:       b.Name,
			RateLimits: make([]RateLimitResponse, 0, len(b.RateLimits)),
			Error:      b.Error,
		}
		for _, rl := range b.RateLimits {
			r := RateLimitResponse{
				Resource:  rl.Resource,
				Limit:     rl.Limit,
				Remaining: rl.Remaining,
				NearLimit: rl.NearLimit,
			}
			if !rl.ResetAt.IsZero() {
				r.ResetAt = rl.ResetAt.UTC().Format(time.RFC3339)
			}
			bs.RateLimits = append(bs.RateLimits, r)
		}
		resp.Backends = append(resp.Backends, bs)
	}

	for id, at := range st.LastRuns {
		resp.LastRuns = append(resp.LastRuns, LastRunResponse{TrackingID: id, At: at.UTC().Format(time.RFC3339)})
	}
	sort.Slice(resp.LastRuns, func(i, j int) bool { return resp.LastRuns[i].TrackingID < resp.LastRuns[j].TrackingID })

	return resp
}
