package presence

import (
	"sort"
	"sync"
)

// Registry maps an online identity to the handle of its live connection.
// One entry per identity; a newer Register for the same identity wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string // identity -> handle
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Register overwrites any previous entry for identity.
func (r *Registry) Register(identity, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity] = handle
}

func (r *Registry) Lookup(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[identity]
	return h, ok
}

// Unregister removes the entry pointing at handle. Disconnects only know
// the handle, so the identity is recovered by scanning.
func (r *Registry) Unregister(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, h := range r.entries {
		if h == handle {
			delete(r.entries, identity)
			return identity, true
		}
	}
	return "", false
}

// IdentityOf reports the identity currently bound to handle, if any.
func (r *Registry) IdentityOf(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for identity, h := range r.entries {
		if h == handle {
			return identity, true
		}
	}
	return "", false
}

// Snapshot returns the registered identities in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for identity := range r.entries {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
