package api

import (
	"net/http"

	"github.com/iammorganparry/wagate/internal/models"
	"github.com/iammorganparry/wagate/internal/store"
	"github.com/iammorganparry/wagate/internal/supervisor"
)

type HealthHandler struct {
	db  *store.DB
	mgr *supervisor.Manager
}

func NewHealthHandler(db *store.DB, mgr *supervisor.Manager) *HealthHandler {
	return &HealthHandler{db: db, mgr: mgr}
}

// Ping handles GET /ping
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:        "ok",
		ActiveHandles: h.mgr.HandleCount(),
	}

	count, err := h.db.SessionCount()
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.SessionCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
