// Package cachemanager provides a typed key/value store over go-cache.
package cachemanager

import (
	"context"
	"errors"
	"time"
)

// ErrKeyExists is returned by Add when the key is already present.
var ErrKeyExists = errors.New("key already exists")

// NoExpiration keeps an entry until it is deleted.
const NoExpiration time.Duration = -1

type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Add(ctx context.Context, key K, value V, ttl time.Duration) error
	Keys(ctx context.Context) []K
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
