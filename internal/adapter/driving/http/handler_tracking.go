package httphandler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// ListTracking returns every tracked subject.
func (h *Handler) ListTracking(w http.ResponseWriter, r *http.Request) {
	all, err := h.tracking.List(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list tracking", err)
		return
	}

	resp := make([]TrackingResponse, 0, len(all))
	for _, t := range all {
		resp = append(resp, toTrackingResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTracking returns one tracked subject.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, err := h.tracking.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "failed to get tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackingResponse(t))
}

// AddTracking starts tracking a subject, given either as a tracking URI or as
// explicit backend, kind and object.
func (h *Handler) AddTracking(w http.ResponseWriter, r *http.Request) {
	var req AddTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		t   model.Tracking
		err error
	)
	if uri := strings.TrimSpace(req.URI); uri != "" {
		t, err = h.tracking.AddURI(r.Context(), req.RoomID, uri)
	} else {
		t, err = h.tracking.Add(r.Context(), req.RoomID, model.TrackingRequest{
			Object:  req.Object,
			Backend: req.Backend,
			Kind:    model.SubjectKind(req.Kind),
			Params:  req.Params.toModel(),
		})
	}
	if err != nil {
		h.writeServiceError(w, "failed to add tracking", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTrackingResponse(t))
}

// UpdateTracking changes the object or params of a tracked subject.
func (h *Handler) UpdateTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := model.TrackingUpdate{Object: req.Object}
	if req.Params != nil {
		p := req.Params.toModel()
		upd.Params = &p
	}

	t, err := h.tracking.Update(r.Context(), id, upd)
	if err != nil {
		h.writeServiceError(w, "failed to update tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackingResponse(t))
}

// RemoveTracking stops tracking a subject.
func (h *Handler) RemoveTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.tracking.Remove(r.Context(), id); err != nil {
		h.writeServiceError(w, "failed to remove tracking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LastReleases returns the newest release of every repository of a subject,
// refreshing whatever is due first.
func (h *Handler) LastReleases(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	views, err := h.releases.LastReleases(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "failed to list last releases", err)
		return
	}

	resp := make([]ReleaseResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toReleaseResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefreshTracking polls one subject now and announces what is new.
func (h *Handler) RefreshTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.refresher.RefreshTracking(r.Context(), id); err != nil {
		h.writeServiceError(w, "failed to refresh tracking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
