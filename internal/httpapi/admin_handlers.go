package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"keygate.org/internal/admin"
	"keygate.org/internal/audit"
)

type adminPatchRequest struct {
	CallerEmail string        `json:"caller_email"`
	Updates     admin.Updates `json:"updates"`
}

func (a *API) handleAdminCodeResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/codes/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		a.patchAdminCode(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPatch)
	}
}

func (a *API) patchAdminCode(w http.ResponseWriter, r *http.Request, id string) {
	if a.svc.Admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin surface disabled")
		return
	}
	var req adminPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.CallerEmail) == "" {
		writeError(w, r, http.StatusBadRequest, "caller_email is required")
		return
	}

	ctx := audit.WithActor(r.Context(), req.CallerEmail)
	rec, err := a.svc.Admin.Override(ctx, req.CallerEmail, id, req.Updates)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}

	a.audit(ctx, "admin.code.override", map[string]any{
		"target_id": id,
		"blocked":   rec.Blocked,
		"approved":  rec.Approved,
	})
	writeJSON(w, http.StatusOK, rec)
}

// handleAdminEvents streams the license activity feed over SSE. The caller
// must resolve to an active admin, same as the override path.
func (a *API) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.svc.Admin == nil || a.svc.Stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	caller := r.URL.Query().Get("caller_email")
	if _, err := a.svc.Admin.Authorize(r.Context(), caller); err != nil {
		handleAdminError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := a.svc.Stream.Subscribe(r.Context())

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func handleAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, admin.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "caller is not an active admin")
	case errors.Is(err, admin.ErrInvalidPatch):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, admin.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
