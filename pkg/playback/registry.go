package playback

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Registry is the single owner of live handles, keyed by resource id.
// Every method is atomic with respect to the others.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Get returns the handle registered under id.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Insert registers h under its id and returns the handle it displaced, if any.
func (r *Registry) Insert(h *Handle) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.handles[h.id]
	r.handles[h.id] = h
	return prev
}

// Remove unregisters and returns the handle under id, or nil.
func (r *Registry) Remove(id string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil
	}
	delete(r.handles, id)
	return h
}

// RemoveIf unregisters the handle under id only when match reports true
// for it, evaluated under the registry lock. It returns the removed handle.
func (r *Registry) RemoveIf(id string, match func(*Handle) bool) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok || !match(h) {
		return nil
	}
	delete(r.handles, id)
	return h
}

// IsCurrent reports whether h is still the handle registered under its id.
func (r *Registry) IsCurrent(h *Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[h.id] == h
}

// Touch updates the last-used time of the handle under id. It reports
// whether a handle was found.
func (r *Registry) Touch(id string, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if ok {
		h.touch(now)
	}
	return ok
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Snapshot returns the registered handles ordered by id.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	handles := lo.Values(r.handles)
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].id < handles[j].id })
	return handles
}

// Drain unregisters and returns every handle.
func (r *Registry) Drain() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := lo.Values(r.handles)
	r.handles = make(map[string]*Handle)
	return handles
}
