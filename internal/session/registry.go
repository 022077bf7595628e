package session

import (
	"maps"
	"sync"
)

// Registry maps session IDs to their Context. It is goroutine-safe: all
// operations share a single lock that covers only the map access.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Context
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Context),
	}
}

// Open registers a session. An existing entry with the same ID is replaced.
func (r *Registry) Open(id string, ctx Context) {
	ctx.Attributes = maps.Clone(ctx.Attributes)

	r.mu.Lock()
	r.sessions[id] = ctx
	r.mu.Unlock()
}

// Close removes a session. Closing an unknown ID is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Lookup returns a copy of the session context and whether it was found.
func (r *Registry) Lookup(id string) (Context, bool) {
	r.mu.RLock()
	ctx, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Context{}, false
	}
	ctx.Attributes = maps.Clone(ctx.Attributes)
	return ctx, true
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return n
}
