package services

import (
	"sync"

	"helmsman/internal/ports"
)

// HandleRegistry tracks the live process handle per active session. The
// dispatcher registers on spawn, the exit callback drops, and the session
// service resolves handles for input, resize, and kill.
type HandleRegistry struct {
	mu      sync.RWMutex
	handles map[string]ports.ProcessHandle
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[string]ports.ProcessHandle)}
}

func (r *HandleRegistry) put(sessionID string, h ports.ProcessHandle) {
	r.mu.Lock()
	r.handles[sessionID] = h
	r.mu.Unlock()
}

func (r *HandleRegistry) get(sessionID string) (ports.ProcessHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[sessionID]
	return h, ok
}

func (r *HandleRegistry) drop(sessionID string) {
	r.mu.Lock()
	delete(r.handles, sessionID)
	r.mu.Unlock()
}

func (r *HandleRegistry) all() map[string]ports.ProcessHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ports.ProcessHandle, len(r.handles))
	for id, h := range r.handles {
		out[id] = h
	}
	return out
}
