// Package idcache holds the identifier pools virtual users share to find
// products, users and carts that exist on the backend.
package idcache

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrEmptyFetch is returned by EnsurePopulated when the fetch succeeded but
// yielded no usable identifiers.
var ErrEmptyFetch = errors.New("fetch returned no identifiers")

// Kind names a resource whose identifiers are cached.
type Kind string

const (
	Products Kind = "product"
	Users    Kind = "user"
	Carts    Kind = "cart"
)

// FetchFunc performs one backend call and returns the identifiers it found.
type FetchFunc func(ctx context.Context) ([]int, error)

// Cache is a lazily populated pool of identifiers for one resource kind.
//
// The pool is an immutable snapshot: Replace swaps in a new slice and never
// mutates the old one, so readers can never observe a mix of two fetches.
// The lock only guards the swap and is never held across a fetch.
type Cache struct {
	kind   Kind
	mu     sync.RWMutex
	ids    []int
	flight singleflight.Group
}

func New(kind Kind) *Cache {
	return &Cache{kind: kind}
}

func (c *Cache) Kind() Kind {
	return c.kind
}

// Len returns the size of the current snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Snapshot returns a copy of the current identifiers.
func (c *Cache) Snapshot() []int {
	c.mu.RLock()
	ids := c.ids
	c.mu.RUnlock()
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// Get returns a uniformly random cached identifier, or false when empty.
// rng belongs to the caller; it is never shared between virtual users.
func (c *Cache) Get(rng *rand.Rand) (int, bool) {
	c.mu.RLock()
	ids := c.ids
	c.mu.RUnlock()
	if len(ids) == 0 {
		return 0, false
	}
	return ids[rng.Intn(len(ids))], true
}

// PickOr returns a cached identifier or, when the cache is empty, a value
// produced by fallback.
func (c *Cache) PickOr(rng *rand.Rand, fallback Fallback) int {
	if id, ok := c.Get(rng); ok {
		return id
	}
	return fallback.Pick(rng)
}

// Replace installs ids as the full cache contents. Previous contents are
// discarded, not merged, so identifiers the backend has dropped stop being
// served. An empty ids clears the cache.
func (c *Cache) Replace(ids []int) {
	var snapshot []int
	if len(ids) > 0 {
		snapshot = make([]int, len(ids))
		copy(snapshot, ids)
	}
	c.mu.Lock()
	c.ids = snapshot
	c.mu.Unlock()
}

// EnsurePopulated fills an empty cache by calling fetch. A non-empty cache
// returns immediately. Concurrent misses share a single fetch. On error or
// an empty result the cache is left untouched and the error is returned;
// callers fall back to synthetic identifiers. The shared fetch is detached
// from the cancellation of whichever caller started it.
func (c *Cache) EnsurePopulated(ctx context.Context, fetch FetchFunc) error {
	if c.Len() > 0 {
		return nil
	}
	_, err, _ := c.flight.Do(string(c.kind), func() (interface{}, error) {
		if c.Len() > 0 {
			return nil, nil
		}
		ids, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrEmptyFetch
		}
		c.Replace(ids)
		return nil, nil
	})
	return err
}
