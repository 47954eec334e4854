// Package cache provides in-process caching for quick state reads.
// Cached snapshots are never the source of truth; the engine's store is.
package cache

import (
	"time"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTTL bounds how long a snapshot of an idle character is served.
const DefaultTTL = 30 * time.Second

// SnapshotCache provides fast access to character snapshots without taking character locks.
type SnapshotCache struct {
	lru *expirable.LRU[string, character.Snapshot]
}

// NewSnapshotCache creates a cache holding at most size snapshots, each expiring after ttl.
func NewSnapshotCache(size int, ttl time.Duration) *SnapshotCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{
		lru: expirable.NewLRU[string, character.Snapshot](size, nil, ttl),
	}
}

// Put caches the snapshot, replacing any older one for the same character.
func (c *SnapshotCache) Put(s character.Snapshot) {
	c.lru.Add(s.ID, s)
}

// Get returns the cached snapshot, if still fresh.
func (c *SnapshotCache) Get(id string) (character.Snapshot, bool) {
	return c.lru.Get(id)
}

// Remove invalidates a character's snapshot.
func (c *SnapshotCache) Remove(id string) {
	c.lru.Remove(id)
}

// Len returns the number of cached snapshots.
func (c *SnapshotCache) Len() int {
	return c.lru.Len()
}
