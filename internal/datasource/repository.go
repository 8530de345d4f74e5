package datasource

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Repository holds the created data sources by name.
type Repository struct {
	mu      sync.RWMutex
	sources map[string]*DataSource
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{sources: make(map[string]*DataSource)}
}

// Add stores ds; the name must be free.
func (r *Repository) Add(ds *DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[ds.Metadata.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, ds.Metadata.Name)
	}
	r.sources[ds.Metadata.Name] = ds
	return nil
}

// Get returns the data source called name.
func (r *Repository) Get(name string) (*DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.sources[name]
	return ds, ok
}

// Remove deletes and returns the data source called name.
func (r *Repository) Remove(name string) (*DataSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.sources[name]
	if ok {
		delete(r.sources, name)
	}
	return ds, ok
}

// List returns all data sources sorted by name.
func (r *Repository) List() []*DataSource {
	r.mu.RLock()
	out := make([]*DataSource, 0, len(r.sources))
	for _, ds := range r.sources {
		out = append(out, ds)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *DataSource) int { return strings.Compare(a.Metadata.Name, b.Metadata.Name) })
	return out
}

// Len returns the number of data sources.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
