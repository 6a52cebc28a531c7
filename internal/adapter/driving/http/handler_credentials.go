package httphandler

import (
	"encoding/json"
	"net/http"
)

// ListCredentials returns the services that have a stored token. Tokens are
// never returned.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	services, err := h.credentials.Services(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list credentials", err)
		return
	}
	writeJSON(w, http.StatusOK, CredentialListResponse{Services: services})
}

// SetCredential stores the token of a backend or backend instance and swaps
// the backend to use it.
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req SetCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	service := r.PathValue("service")
	if err := h.credentials.Set(r.Context(), service, req.Token); err != nil {
		h.writeServiceError(w, "failed to set credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredential removes a stored token.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.Delete(r.Context(), r.PathValue("service")); err != nil {
		h.writeServiceError(w, "failed to delete credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
