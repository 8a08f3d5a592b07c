// Package events delivers session events to the tenant that owns the session.
// Delivery is best effort: no acknowledgement, no backlog.
package events

import (
	"log/slog"
	"sync"

	"github.com/iammorganparry/wagate/internal/metrics"
)

const DefaultBuffer = 32

// Event is one message pushed to a tenant.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Hub fans events out to the subscriptions of each tenant.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription // tenant -> connection id -> sub
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription receives the events of one tenant on one client connection.
type Subscription struct {
	TenantID     string
	ConnectionID string

	hub    *Hub
	ch     chan Event
	closed bool // guarded by hub.mu
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe joins connectionID to the tenant's channel. Subscribing the same
// connection id twice replaces the earlier subscription.
func (h *Hub) Subscribe(tenantID, connectionID string) *Subscription {
	sub := &Subscription{
		TenantID:     tenantID,
		ConnectionID: connectionID,
		hub:          h,
		ch:           make(chan Event, h.buffer),
	}

	h.mu.Lock()
	conns, ok := h.subs[tenantID]
	if !ok {
		conns = make(map[string]*Subscription)
		h.subs[tenantID] = conns
	}
	if prev, ok := conns[connectionID]; ok {
		prev.closed = true
		close(prev.ch)
	}
	conns[connectionID] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber joined", "tenant_id", tenantID, "connection_id", connectionID)
	return sub
}

// Publish pushes an event to every subscription of tenantID without blocking.
// Subscriptions with a full buffer miss the event.
func (h *Hub) Publish(tenantID, name string, payload any) {
	ev := Event{Name: name, Data: payload}
	delivered, dropped := 0, 0

	h.mu.RLock()
	for _, sub := range h.subs[tenantID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.logger.Warn("dropped event for slow subscriber", "tenant_id", tenantID, "event", name, "dropped", dropped)
	}
	metrics.RecordPublish(name, delivered, dropped)
}

// SubscriberCount returns the number of live subscriptions for a tenant.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	conns := h.subs[sub.TenantID]
	if conns[sub.ConnectionID] == sub {
		delete(conns, sub.ConnectionID)
	}
	if len(conns) == 0 {
		delete(h.subs, sub.TenantID)
	}
}
