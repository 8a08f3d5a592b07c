package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/wagate/internal/auth"
	"github.com/iammorganparry/wagate/internal/models"
	"github.com/iammorganparry/wagate/internal/supervisor"
)

// SessionHandler handles the tenant-facing session routes.
type SessionHandler struct {
	mgr    *supervisor.Manager
	logger *slog.Logger
}

func NewSessionHandler(mgr *supervisor.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{mgr: mgr, logger: logger}
}

// Connect handles POST /sessions/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = b
	}

	tenantID := auth.TenantID(r.Context())
	opts := supervisor.StartOptions{Force: force, Name: req.Name}

	var (
		sess *models.Session
		err  error
	)
	if req.SessionID != "" {
		if err = h.mgr.Start(r.Context(), req.SessionID, tenantID, opts); err == nil {
			sess, err = h.mgr.GetSession(r.Context(), req.SessionID, tenantID)
		}
	} else {
		sess, err = h.mgr.StartSession(r.Context(), tenantID, opts)
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, models.ConnectResponse{
		Message: "connection process started",
		Session: sess,
	})
}

// Persist handles POST /sessions/{id}/persist
func (h *SessionHandler) Persist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.mgr.PersistSession(r.Context(), id, auth.TenantID(r.Context())); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session persisted"})
}

// List handles GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.mgr.ListSessions(r.Context(), auth.TenantID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SessionListResponse{Sessions: list})
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.mgr.GetSession(r.Context(), chi.URLParam(r, "id"), auth.TenantID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// QR handles GET /sessions/{id}/qr
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.mgr.GetSession(r.Context(), id, auth.TenantID(r.Context())); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := models.PairingCodeResponse{SessionID: id}
	if code, ok := h.mgr.LatestPairingCode(id); ok {
		resp.QR = &code
	}
	writeJSON(w, http.StatusOK, resp)
}

// LatestQR handles GET /sessions/latest-qr
func (h *SessionHandler) LatestQR(w http.ResponseWriter, r *http.Request) {
	id, code, ok, err := h.mgr.LatestPairingCodeForOwner(r.Context(), auth.TenantID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var resp models.PairingCodeResponse
	if ok {
		resp.SessionID = id
		resp.QR = &code
	}
	writeJSON(w, http.StatusOK, resp)
}
