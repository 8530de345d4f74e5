// Package capability provides Registry, the thread-safe mapping from provider
// type key to provider instance that the coordinator fills from bind/unbind
// events and snapshots at initialization time.
package capability

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

// ErrInvalidEntry is returned by Register for an empty key or a zero instance.
var ErrInvalidEntry = errors.New("capability: invalid entry")

// Entry is one provider registration.
type Entry[H comparable] struct {
	Key      string
	Instance H
}

// Registry maps provider type keys to provider instances.
// Handles are compared by ==, so they should be pointers or pointer-backed
// interface values; that comparison is what identifies "the same instance".
// It is safe for concurrent use.
type Registry[H comparable] struct {
	mu      sync.RWMutex
	entries map[string]H
}

// NewRegistry creates an empty Registry.
func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{
		entries: make(map[string]H),
	}
}

// Register inserts or replaces the mapping for key. The last registration for
// a key wins. Returns whether an existing, different instance was replaced.
func (r *Registry[H]) Register(key string, instance H) (replaced bool, err error) {
	var zero H
	if key == "" || instance == zero {
		return false, ErrInvalidEntry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.entries[key]
	r.entries[key] = instance
	return exists && prev != instance, nil
}

// Unregister removes the mapping for key only if the stored instance is
// identical to instance. A stale unbind for an instance that has since been
// replaced is a no-op. Returns whether the mapping was removed.
func (r *Registry[H]) Unregister(key string, instance H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[key]
	if !ok || current != instance {
		return false
	}
	delete(r.entries, key)
	return true
}

// Get returns the instance currently registered under key.
func (r *Registry[H]) Get(key string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.entries[key]
	return h, ok
}

// Len returns the number of registered providers.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns the registered keys in lexicographic order.
func (r *Registry[H]) Keys() []string {
	r.mu.RLock()
	keys := slices.Collect(maps.Keys(r.entries))
	r.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Snapshot returns an immutable copy of the current mapping, taken under the
// registry lock. Registrations that completed before the call are included;
// registrations that start after it returns are not.
func (r *Registry[H]) Snapshot() Snapshot[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot[H]{entries: maps.Clone(r.entries)}
}
