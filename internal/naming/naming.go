// Package naming implements the naming-context manager: a flat namespace of
// bound objects that data sources are published into so other components can
// look them up by name (for example "jdbc/main").
package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zjrosen/datasources/internal/cachemanager"
	"github.com/zjrosen/datasources/internal/log"
)

var (
	// ErrNameNotBound is returned when looking up or unbinding an unknown name.
	ErrNameNotBound = errors.New("name not bound")
	// ErrNameAlreadyBound is returned by Bind when the name is taken.
	ErrNameAlreadyBound = errors.New("name already bound")
	// ErrInvalidName is returned for empty names.
	ErrInvalidName = errors.New("invalid name")
)

// ContextManager binds objects to names.
type ContextManager interface {
	Bind(ctx context.Context, name string, obj any) error
	Rebind(ctx context.Context, name string, obj any) error
	Lookup(ctx context.Context, name string) (any, error)
	Unbind(ctx context.Context, name string) error
	Names(ctx context.Context) []string
}

// CacheContext is a ContextManager over an in-memory cache whose entries
// never expire.
type CacheContext struct {
	cache cachemanager.CacheManager[string, any]
}

var _ ContextManager = (*CacheContext)(nil)

// NewCacheContext creates an empty naming context.
func NewCacheContext() *CacheContext {
	return &CacheContext{
		cache: cachemanager.NewInMemoryCacheManager[string, any]("naming", cachemanager.NoExpiration, time.Hour),
	}
}

func normalize(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", ErrInvalidName
	}
	return n, nil
}

// Bind binds obj to name; fails if the name is already bound.
func (c *CacheContext) Bind(ctx context.Context, name string, obj any) error {
	n, err := normalize(name)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("%w: nil object for %s", ErrInvalidName, n)
	}
	if err := c.cache.Add(ctx, n, obj, cachemanager.NoExpiration); err != nil {
		return fmt.Errorf("%w: %s", ErrNameAlreadyBound, n)
	}
	log.Debug(log.CatNaming, "Bound name", "name", n, "type", fmt.Sprintf("%T", obj))
	return nil
}

// Rebind binds obj to name, replacing any existing binding.
func (c *CacheContext) Rebind(ctx context.Context, name string, obj any) error {
	n, err := normalize(name)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("%w: nil object for %s", ErrInvalidName, n)
	}
	c.cache.Set(ctx, n, obj, cachemanager.NoExpiration)
	log.Debug(log.CatNaming, "Rebound name", "name", n)
	return nil
}

// Lookup returns the object bound to name.
func (c *CacheContext) Lookup(ctx context.Context, name string) (any, error) {
	n, err := normalize(name)
	if err != nil {
		return nil, err
	}
	obj, ok := c.cache.Get(ctx, n)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNameNotBound, n)
	}
	return obj, nil
}

// Unbind removes name.
func (c *CacheContext) Unbind(ctx context.Context, name string) error {
	n, err := normalize(name)
	if err != nil {
		return err
	}
	if _, ok := c.cache.Get(ctx, n); !ok {
		return fmt.Errorf("%w: %s", ErrNameNotBound, n)
	}
	if err := c.cache.Delete(ctx, n); err != nil {
		return fmt.Errorf("unbind %s: %w", n, err)
	}
	log.Debug(log.CatNaming, "Unbound name", "name", n)
	return nil
}

// Names returns all bound names, sorted.
func (c *CacheContext) Names(ctx context.Context) []string {
	return c.cache.Keys(ctx)
}

// LookupAs looks up name and asserts the bound object to T.
func LookupAs[T any](ctx context.Context, cm ContextManager, name string) (T, error) {
	var zero T
	obj, err := cm.Lookup(ctx, name)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("name %s is bound to %T", name, obj)
	}
	return v, nil
}
