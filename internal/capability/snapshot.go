package capability

import (
	"maps"
	"slices"
)

// Snapshot is a point-in-time, read-only view of a Registry.
// The zero value is an empty snapshot.
type Snapshot[H comparable] struct {
	entries map[string]H
}

// SnapshotOf builds a Snapshot from a plain map. The map is copied.
func SnapshotOf[H comparable](m map[string]H) Snapshot[H] {
	return Snapshot[H]{entries: maps.Clone(m)}
}

// Get returns the instance recorded for key.
func (s Snapshot[H]) Get(key string) (H, bool) {
	h, ok := s.entries[key]
	return h, ok
}

// Len returns the number of entries.
func (s Snapshot[H]) Len() int {
	return len(s.entries)
}

// Keys returns the keys in lexicographic order.
func (s Snapshot[H]) Keys() []string {
	keys := slices.Collect(maps.Keys(s.entries))
	slices.Sort(keys)
	return keys
}

// Entries returns the entries ordered by key.
func (s Snapshot[H]) Entries() []Entry[H] {
	out := make([]Entry[H], 0, len(s.entries))
	for _, k := range s.Keys() {
		out = append(out, Entry[H]{Key: k, Instance: s.entries[k]})
	}
	return out
}

// Map returns a fresh copy of the mapping; mutating it does not affect the snapshot.
func (s Snapshot[H]) Map() map[string]H {
	if s.entries == nil {
		return make(map[string]H)
	}
	return maps.Clone(s.entries)
}
