package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/iammorganparry/wagate/internal/auth"
)

const writeTimeout = 10 * time.Second

// StreamHandler upgrades an authenticated request to a websocket and streams
// the tenant's events as {"event": ..., "data": ...} frames.
type StreamHandler struct {
	hub            *Hub
	originPatterns []string
	logger         *slog.Logger
}

// NewStreamHandler creates the handler. An origin pattern of "*" accepts any origin.
func NewStreamHandler(hub *Hub, originPatterns []string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, originPatterns: originPatterns, logger: logger}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())
	if tenantID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	for _, p := range h.originPatterns {
		if p == "*" {
			opts.InsecureSkipVerify = true
		}
	}
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Warn("event stream upgrade failed", "tenant_id", tenantID, "error", err)
		return
	}
	defer c.CloseNow()

	sub := h.hub.Subscribe(tenantID, uuid.New().String())
	defer sub.Close()

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the client goes away.
	ctx := c.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if err := h.write(ctx, c, ev); err != nil {
				h.logger.Debug("event stream write failed", "tenant_id", tenantID, "error", err)
				return
			}
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, c *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}
