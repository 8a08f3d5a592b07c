package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/iammorganparry/wagate/internal/supervisor"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeServiceError maps supervisor errors to HTTP responses. Credential and
// unexpected failures are logged and answered without internal detail.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *supervisor.ValidationError
	var cerr *supervisor.CredentialIOError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, supervisor.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, supervisor.ErrNotConnected):
		writeError(w, http.StatusConflict, "session is not connected")
	case errors.Is(err, supervisor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	case errors.As(err, &cerr):
		logger.Error("credential operation failed", "op", cerr.Op, "error", cerr.Err)
		writeError(w, http.StatusInternalServerError, "failed to persist credentials")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
