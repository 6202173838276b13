// Package cache holds the in-memory view of decrypted entities the client reads from.
//
// The cache never talks to the network. Each write stamps the entry with a new revision
// taken from a process-wide monotonically increasing counter, so callers can tell whether
// an entity changed between two points in time.
package cache

import (
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/model"
)

// Item is one cached entity: its decrypted form, the encrypted record it was sealed into
// and the local revision of the last write.
type Item struct {
	Entity model.Entity
	Sealed model.Record
	Rev    uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Item
	rev   uint64
}

func New() *Cache {
	return &Cache{items: make(map[uuid.UUID]Item)}
}

// Get returns the cached item for id.
func (c *Cache) Get(id uuid.UUID) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(it), true
}

// Upsert stores it under it.Entity.ID and returns the revision assigned to the write.
// The caller-supplied Rev is ignored.
func (c *Cache) Upsert(it Item) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rev++
	it = cloneItem(it)
	it.Rev = c.rev
	c.items[it.Entity.ID] = it
	return it.Rev
}

// UpsertIf stores it only when the current revision of its id equals expected
// (0 means absent). Reports the new revision and whether the write happened.
func (c *Cache) UpsertIf(it Item, expected uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items[it.Entity.ID].Rev != expected {
		return 0, false
	}
	c.rev++
	it = cloneItem(it)
	it.Rev = c.rev
	c.items[it.Entity.ID] = it
	return it.Rev, true
}

// RemoveIf drops id only when its revision equals expected.
func (c *Cache) RemoveIf(id uuid.UUID, expected uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[id]
	if !ok || cur.Rev != expected {
		return false
	}
	delete(c.items, id)
	return true
}

// Remove drops id from the cache. Removing a missing id is a no-op.
func (c *Cache) Remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

// Rev returns the current revision of id, or 0 when it is absent.
func (c *Cache) Rev(id uuid.UUID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[id].Rev
}

// ListByUser returns live (non-deleted) entities owned by userID ordered by creation
// time, then id.
func (c *Cache) ListByUser(userID uuid.UUID) []model.Entity {
	c.mu.RLock()
	out := make([]model.Entity, 0, len(c.items))
	for _, it := range c.items {
		if it.Entity.UserID != userID || it.Entity.Deleted {
			continue
		}
		out = append(out, cloneItem(it).Entity)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Entity) int {
		if d := a.CreatedAt.Compare(b.CreatedAt); d != 0 {
			return d
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// All returns every item including tombstones, ordered by id.
func (c *Cache) All() []Item {
	c.mu.RLock()
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, cloneItem(it))
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Item) int {
		return strings.Compare(a.Entity.ID.String(), b.Entity.ID.String())
	})
	return out
}

// Len returns the number of cached items, tombstones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func cloneItem(it Item) Item {
	out := it
	out.Sealed = it.Sealed.Clone()
	if it.Entity.Fields != nil {
		out.Entity.Fields = make(map[string]string, len(it.Entity.Fields))
		for k, v := range it.Entity.Fields {
			out.Entity.Fields[k] = v
		}
	}
	out.Entity.TagIDs = slices.Clone(it.Entity.TagIDs)
	return out
}
