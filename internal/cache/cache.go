// Package cache holds list query results per owner. Keys are typed per
// entity kind so an invalidation can never miss because of a mistyped key.
package cache

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPipelines Kind = "pipelines"
	KindStages    Kind = "stages"
	KindDeals     Kind = "deals"
)

// ScopeAll is the scope of an unfiltered list.
const ScopeAll = "*"

type Key struct {
	Kind    Kind
	OwnerID uuid.UUID
	Scope   string
}

// Scope returns the cache scope for an optional pipeline filter.
func Scope(pipelineID *uuid.UUID) string {
	if pipelineID == nil {
		return ScopeAll
	}
	return pipelineID.String()
}

type partition struct {
	Kind    Kind
	OwnerID uuid.UUID
}

type Cache struct {
	mu          sync.RWMutex
	entries     map[Key]any
	generations map[partition]uint64
	epoch       uint64
}

func New() *Cache {
	return &Cache{
		entries:     make(map[Key]any),
		generations: make(map[partition]uint64),
	}
}

// Load returns the cached value for key or calls load and stores its result.
// A result is only stored when no invalidation of the key's partition
// happened while load was running.
func Load[T any](c *Cache, key Key, load func() (T, error)) (T, error) {
	p := partition{Kind: key.Kind, OwnerID: key.OwnerID}

	c.mu.RLock()
	if v, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	} else {
		c.mu.RUnlock()
	}

	c.mu.RLock()
	gen, epoch := c.generations[p], c.epoch
	c.mu.RUnlock()

	v, err := load()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	if c.generations[p] == gen && c.epoch == epoch {
		c.entries[key] = v
	}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops every scope of kind for owner and returns how many
// entries were removed.
func (c *Cache) Invalidate(kind Kind, owner uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[partition{Kind: kind, OwnerID: owner}]++
	n := 0
	for k := range c.entries {
		if k.Kind == kind && k.OwnerID == owner {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) InvalidateOwner(owner uuid.UUID) {
	for _, kind := range []Kind{KindPipelines, KindStages, KindDeals} {
		c.Invalidate(kind, owner)
	}
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[Key]any)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
