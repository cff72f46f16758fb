package stream

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vigil/cmd/internal/secmon"
)

// Hub fans raised alerts out to connected clients. It implements secmon.AlertSink.
//
// Join/Leave are safe under concurrent PublishAlert, and PublishAlert never
// blocks: a full or closing client misses the alert.
type Hub struct {
	log     *slog.Logger
	dropped prometheus.Counter

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

var _ secmon.AlertSink = (*Hub)(nil)

// NewHub constructs a Hub. reg may be nil.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log: log,
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "security_stream_dropped_total",
			Help:      "Alerts dropped because a subscriber queue was full.",
		}),
		clients: make(map[string]*Client),
	}
	if reg != nil {
		reg.MustRegister(h.dropped)
	}
	return h
}

// Join registers a client. It reports false once the hub is closed.
func (h *Hub) Join(c *Client) bool {
	if h == nil || c == nil || c.ID == "" {
		return false
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.log.Info("stream.client.join", "client_id", c.ID)
	return true
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(id string) {
	if h == nil || id == "" {
		return
	}

	h.mu.Lock()
	c := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	// Remove before closing so a broadcaster never sends to a torn-down client.
	if c != nil {
		c.Close()
		h.log.Info("stream.client.leave", "client_id", id)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishAlert broadcasts ev to every client without blocking.
func (h *Hub) PublishAlert(ev secmon.StoredEvent) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- ev:
		default:
			h.dropped.Inc()
		}
	}
}

// Close disconnects every client and rejects further joins. It is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.log.Info("stream.hub.closed", "clients", len(clients))
}
