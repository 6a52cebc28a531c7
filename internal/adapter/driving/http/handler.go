package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/releasetracker/internal/application"
	"github.com/ericfisherdev/releasetracker/internal/domain/model"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
)

// TrackingManager is the tracking subject surface the API exposes.
type TrackingManager interface {
	List(ctx context.Context) ([]model.Tracking, error)
	Get(ctx context.Context, id int64) (model.Tracking, error)
	Add(ctx context.Context, roomID string, req model.TrackingRequest) (model.Tracking, error)
	AddURI(ctx context.Context, roomID, uri string) (model.Tracking, error)
	Update(ctx context.Context, id int64, upd model.TrackingUpdate) (model.Tracking, error)
	Remove(ctx context.Context, id int64) error
}

// ReleaseLister returns the newest release per repository of a subject.
type ReleaseLister interface {
	LastReleases(ctx context.Context, trackingID int64) ([]model.ReleaseView, error)
}

// Refresher triggers an out-of-band poll of one subject.
type Refresher interface {
	RefreshTracking(ctx context.Context, trackingID int64) error
}

// StatusReporter summarizes backends and runs.
type StatusReporter interface {
	Status(ctx context.Context) (application.Status, error)
}

// CredentialManager stores backend tokens.
type CredentialManager interface {
	Set(ctx context.Context, service, token string) error
	Delete(ctx context.Context, service string) error
	Services(ctx context.Context) ([]string, error)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	tracking    TrackingManager
	releases    ReleaseLister
	refresher   Refresher
	status      StatusReporter
	credentials CredentialManager
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	tracking TrackingManager,
	releases ReleaseLister,
	refresher Refresher,
	status StatusReporter,
	credentials CredentialManager,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		tracking:    tracking,
		releases:    releases,
		refresher:   refresher,
		status:      status,
		credentials: credentials,
		logger:      logger,
	}
}

// RegisterAPIRoutes registers the JSON API on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/status", h.Status)

	mux.HandleFunc("GET /api/v1/tracking", h.ListTracking)
	mux.HandleFunc("POST /api/v1/tracking", h.AddTracking)
	mux.HandleFunc("GET /api/v1/tracking/{id}", h.GetTracking)
	mux.HandleFunc("PATCH /api/v1/tracking/{id}", h.UpdateTracking)
	mux.HandleFunc("DELETE /api/v1/tracking/{id}", h.RemoveTracking)
	mux.HandleFunc("GET /api/v1/tracking/{id}/releases", h.LastReleases)
	mux.HandleFunc("POST /api/v1/tracking/{id}/refresh", h.RefreshTracking)

	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("PUT /api/v1/credentials/{service}", h.SetCredential)
	mux.HandleFunc("DELETE /api/v1/credentials/{service}", h.DeleteCredential)
}

// ApplyMiddleware wraps h with recovery and request logging.
func ApplyMiddleware(h http.Handler, logger *slog.Logger) http.Handler {
	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, h)
	wrapped = loggingMiddleware(logger, wrapped)
	return wrapped
}

// NewServeMux creates an http.Handler with all API routes registered and
// wrapped with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterAPIRoutes(mux, h)
	return ApplyMiddleware(mux, logger)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Status returns backend rate limits and run bookkeeping.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to build status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

// pathID parses the {id} path value. It writes a 400 and returns false when
// the value is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid tracking id")
		return 0, false
	}
	return id, true
}

// writeServiceError maps domain and port errors to status codes. Anything
// unknown is logged and reported as a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	var (
		verr *model.ValidationError
		derr *driven.DiscoveryError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, driven.ErrUnknownBackend):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrTrackingNotFound):
		writeError(w, http.StatusNotFound, "tracking not found")
	case errors.Is(err, driven.ErrTrackingExists):
		writeError(w, http.StatusConflict, "tracking already exists")
	case errors.As(err, &derr):
		writeError(w, http.StatusUnprocessableEntity, derr.Error())
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
