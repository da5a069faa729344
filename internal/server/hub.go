package server

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live WebSocket clients by connection ID and fans server pushes
// out to them. Slow clients are dropped rather than allowed to block the
// senders.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.connID]; ok && cur == c {
		delete(h.clients, c.connID)
	}
	h.mu.Unlock()
}

// Send delivers one message to a single connection. Unknown or saturated
// connections are skipped.
func (h *Hub) Send(connID string, data []byte) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.enqueue(data)
}

// SendTo delivers one message to each of the given connections.
func (h *Hub) SendTo(connIDs []string, data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// CloseAll disconnects every client. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		all = append(all, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

// Count reports the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
