package lobby

import (
	"sort"
	"sync"
)

// Registry is the host-authoritative map of connected client ids to ready flags.
// Mutations are expected to come from a single writer (the Host actor);
// the lock lets other goroutines take consistent snapshots.
type Registry struct {
	lock    sync.RWMutex
	entries map[ClientID]bool
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[ClientID]bool),
	}
}

// Admit inserts id as not ready if it is absent. Admitting an id that is
// already present leaves its flag untouched. The returned snapshot is
// what a newly admitted client must be sent.
func (r *Registry) Admit(id ClientID) []Entry {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.entries[id]; !ok {
		r.entries[id] = false
	}
	return r.snapshot()
}

// SetReady marks id as ready. It reports whether the flag changed;
// unknown ids and repeated calls are no-ops.
func (r *Registry) SetReady(id ClientID) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	ready, ok := r.entries[id]
	if !ok || ready {
		return false
	}
	r.entries[id] = true
	return true
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id ClientID) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// AllReady reports whether the registry is non-empty and every entry is ready.
func (r *Registry) AllReady() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return allReady(r.entries)
}

func (r *Registry) Ready(id ClientID) (ready bool, ok bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	ready, ok = r.entries[id]
	return ready, ok
}

// Snapshot returns the entries sorted by client id.
func (r *Registry) Snapshot() []Entry {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.snapshot()
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.entries)
}

// Reset discards every entry.
func (r *Registry) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries = make(map[ClientID]bool)
}

func (r *Registry) snapshot() []Entry {
	return snapshotOf(r.entries)
}

func snapshotOf(entries map[ClientID]bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for id, ready := range entries {
		out = append(out, Entry{ClientID: id, Ready: ready})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func allReady(entries map[ClientID]bool) bool {
	if len(entries) == 0 {
		return false
	}
	for _, ready := range entries {
		if !ready {
			return false
		}
	}
	return true
}
