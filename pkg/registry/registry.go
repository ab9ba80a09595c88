// Package registry holds suspended sequences between a gate pause and the
// matching form submission. Entries are keyed by connection identifier and
// at most one exists per connection.
package registry

import (
	"sync"

	"github.com/panelflow/panelflow/pkg/stream"
)

// Registry is a concurrency-safe map of connection id to continuation.
// The zero value is not usable; call New.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*stream.Continuation
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*stream.Continuation)}
}

// Put stores a continuation for a connection, replacing any previous one.
func (r *Registry) Put(connID string, c *stream.Continuation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[connID] = c
}

// Take removes and returns the connection's continuation. A given
// continuation is handed out at most once: after Take it must be stored
// again before it can be taken again. This is what prevents a duplicated
// form submission from advancing the same sequence twice.
func (r *Registry) Take(connID string) (*stream.Continuation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	return c, ok
}

// Peek returns the connection's continuation without consuming it.
func (r *Registry) Peek(connID string) (*stream.Continuation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[connID]
	return c, ok
}

// Remove discards the connection's continuation. Removing an absent entry
// is a no-op, so page unloads and disconnects can always call it.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, connID)
}

// Len reports how many connections currently hold a suspended sequence.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
