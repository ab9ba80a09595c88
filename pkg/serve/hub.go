package serve

import "sync"

// Hub tracks live connections for rebroadcast. Frames the router cannot
// interpret are relayed to every other connection unchanged, which lets
// clients speak their own side protocols through the server.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Add registers a connection.
func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Drop unregisters a connection. Dropping an absent one is a no-op.
func (h *Hub) Drop(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID())
}

// Broadcast relays a raw frame to every connection except the sender.
// Send errors are per-connection and do not stop the relay.
func (h *Hub) Broadcast(sender *Conn, raw []byte) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if sender == nil || c.ID() != sender.ID() {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		_ = c.SendRaw(raw)
	}
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
