package datasource

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
)

// Reader creates data sources of one type. Readers are the providers bound
// into the coordinator's capability registry, keyed by Type.
type Reader interface {
	Type() string
	CreateDataSource(ctx context.Context, def Definition) (any, error)
}

// Tester is implemented by readers that can verify a definition without
// keeping the created object.
type Tester interface {
	TestConnection(ctx context.Context, def Definition) error
}

// ContextCloser is implemented by data source objects that need a context to
// shut down.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// closeObject releases obj if it holds resources.
func closeObject(ctx context.Context, obj any) error {
	switch c := obj.(type) {
	case ContextCloser:
		return c.Close(ctx)
	case io.Closer:
		return c.Close()
	default:
		return nil
	}
}

// ErrUnknownReader is returned by NewReader for an unregistered type.
var ErrUnknownReader = fmt.Errorf("unknown reader type")

var (
	catalogMu sync.RWMutex
	catalog   = make(map[string]func() Reader)
)

// RegisterReader adds a reader factory to the catalog the host binds from.
// It is called from init() of reader packages.
func RegisterReader(typ string, factory func() Reader) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[typ] = factory
}

// NewReader instantiates the registered reader for typ.
func NewReader(typ string) (Reader, error) {
	catalogMu.RLock()
	factory, ok := catalog[typ]
	catalogMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReader, typ)
	}
	return factory(), nil
}

// RegisteredReaders returns the catalog's reader types, sorted.
func RegisteredReaders() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	return slices.Sorted(maps.Keys(catalog))
}
