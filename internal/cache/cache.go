package cache

import (
	"sync"

	"github.com/yungbote/pathsync/internal/pkg/logger"
)

// Entity is anything with a server-assigned identifier.
type Entity interface {
	EntityID() string
}

// Cache is a normalized, identifier-keyed collection for one entity
// kind plus selection/load/error metadata. All writes arrive through
// the store's serialized dispatch loop; the mutex additionally makes
// the read accessors safe from any goroutine.
type Cache[T Entity] struct {
	mu         sync.RWMutex
	log        *logger.Logger
	kind       string
	entities   map[string]T
	order      []string
	selectedID string
	loaded     bool
	err        string
}

func New[T Entity](kind string, baseLog *logger.Logger) *Cache[T] {
	return &Cache[T]{
		log:      baseLog.With("cache", kind),
		kind:     kind,
		entities: make(map[string]T),
	}
}

func (c *Cache[T]) Kind() string { return c.kind }

// BeginLoad marks a read in flight: loaded drops, error clears, the
// collection itself stays visible (stale-but-present beats blanking).
func (c *Cache[T]) BeginLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.err = ""
}

// SetAll replaces the whole collection after a bulk fetch.
func (c *Cache[T]) SetAll(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[string]T, len(items))
	c.order = c.order[:0]
	for _, it := range items {
		id := it.EntityID()
		if _, dup := c.entities[id]; !dup {
			c.order = append(c.order, id)
		}
		c.entities[id] = it
	}
	c.loaded = true
	c.err = ""
}

// UpsertOne inserts or replaces by identifier.
func (c *Cache[T]) UpsertOne(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertLocked(item)
}

// UpsertMany merges a batch and reports which identifiers were newly
// inserted. Applying the same batch twice yields the same state and an
// empty inserted list the second time; callers key "is this new"
// behavior off the return, not off delivery count.
func (c *Cache[T]) UpsertMany(items []T) (inserted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		if c.upsertLocked(it) {
			inserted = append(inserted, it.EntityID())
		}
	}
	return inserted
}

func (c *Cache[T]) upsertLocked(item T) (isNew bool) {
	id := item.EntityID()
	if id == "" {
		c.log.Warn("dropping entity with empty id")
		return false
	}
	_, exists := c.entities[id]
	if !exists {
		c.order = append(c.order, id)
	}
	c.entities[id] = item
	return !exists
}

// AddOne records a freshly created entity. Duplicate delivery of the
// same create is tolerated by treating it as an upsert.
func (c *Cache[T]) AddOne(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := item.EntityID()
	if _, exists := c.entities[id]; exists {
		c.log.Warn("addOne for existing entity, treating as upsert", "id", id)
	}
	c.upsertLocked(item)
}

// UpdateOne replaces an existing entity. An absent identifier is an
// inconsistency: logged, cache left as-is.
func (c *Cache[T]) UpdateOne(id string, item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entities[id]; !exists {
		c.log.Warn("updateOne for unknown entity, ignoring", "id", id)
		return false
	}
	c.entities[id] = item
	return true
}

// RemoveOne deletes by identifier. A selection pointing at the removed
// entity is left dangling; Selected tolerates that.
func (c *Cache[T]) RemoveOne(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entities[id]; !exists {
		c.log.Warn("removeOne for unknown entity, ignoring", "id", id)
		return false
	}
	delete(c.entities, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *Cache[T]) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedID = id
}

func (c *Cache[T]) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedID = ""
}

// SetError records a failure message. The collection and the loaded
// flag are untouched.
func (c *Cache[T]) SetError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = msg
}

// Reset drops everything back to the initial state.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[string]T)
	c.order = nil
	c.selectedID = ""
	c.loaded = false
	c.err = ""
}

// --- read accessors, all snapshot-returning ---

func (c *Cache[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		if it, ok := c.entities[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.entities[id]
	return it, ok
}

func (c *Cache[T]) SelectedID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedID
}

// Selected resolves the selection pointer. A dangling or empty pointer
// reads as "nothing selected".
func (c *Cache[T]) Selected() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	if c.selectedID == "" {
		return zero, false
	}
	it, ok := c.entities[c.selectedID]
	if !ok {
		return zero, false
	}
	return it, true
}

func (c *Cache[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Cache[T]) Err() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}
