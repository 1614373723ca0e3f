package component

import (
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Cache is a component's private copy of shared facts. Most slots mirror a
// fact owned elsewhere; slots declared with Own belong to this component and
// are never overwritten by state received from others. Values handed out by
// Snapshot are deep copies; values written in are copied too, so no two
// caches ever share a map or slice.
type Cache struct {
	mu      sync.RWMutex
	slots   map[string]any
	owned   map[string]struct{}
	dropped bool
}

// NewCache creates a cache holding a copy of initial.
func NewCache(initial map[string]any) *Cache {
	slots := cloneMap(initial)
	if slots == nil {
		slots = make(map[string]any)
	}
	return &Cache{slots: slots, owned: make(map[string]struct{})}
}

// Get returns the value of a slot.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.slots[key]
	return cloneValue(v), ok
}

// Value returns the slot as a T. It reports false when the slot is missing
// or holds another type.
func Value[T any](c *Cache, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Set writes a slot, declaring it when missing.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return
	}
	c.slots[key] = cloneValue(value)
}

// Extend declares the given slots. Existing slots keep their values.
func (c *Cache) Extend(fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return
	}
	for k, v := range fields {
		if _, ok := c.slots[k]; !ok {
			c.slots[k] = cloneValue(v)
		}
	}
}

// Own declares the given slots as owned by this cache's component. Existing
// slots keep their values.
func (c *Cache) Own(fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return
	}
	for k, v := range fields {
		if _, ok := c.slots[k]; !ok {
			c.slots[k] = cloneValue(v)
		}
		c.owned[k] = struct{}{}
	}
}

// Owns reports whether key is an owned slot.
func (c *Cache) Owns(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owned[key]
	return ok
}

// Owned returns the owned slots, sorted.
func (c *Cache) Owned() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.owned))
	for k := range c.owned {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Merge writes every field, declaring missing slots.
func (c *Cache) Merge(fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return
	}
	for k, v := range fields {
		c.slots[k] = cloneValue(v)
	}
}

// MergeKnown writes only the fields whose slots are already declared and
// not owned, and returns their keys, sorted. Merging the same state twice
// leaves the cache as merging it once.
func (c *Cache) MergeKnown(fields map[string]any) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return nil
	}

	var merged []string
	for k, v := range fields {
		if _, ok := c.slots[k]; !ok {
			continue
		}
		if _, ok := c.owned[k]; ok {
			continue
		}
		c.slots[k] = cloneValue(v)
		merged = append(merged, k)
	}
	sort.Strings(merged)
	return merged
}

// Has reports whether a slot is declared.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.slots[key]
	return ok
}

// Keys returns the declared slots, sorted.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.slots))
	for k := range c.slots {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of declared slots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// Snapshot returns a deep copy of every slot.
func (c *Cache) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := cloneMap(c.slots)
	if snap == nil {
		snap = make(map[string]any)
	}
	return snap
}

// Decode copies the cache into out, a pointer to a struct or map, using
// mapstructure tags.
func (c *Cache) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "cache",
	})
	if err != nil {
		return err
	}
	return dec.Decode(c.Snapshot())
}

// drop discards every slot. Later writes are ignored.
func (c *Cache) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[string]any)
	c.owned = make(map[string]struct{})
	c.dropped = true
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		return cloneSlice(v)
	case map[string]string:
		dst := make(map[string]string, len(v))
		for k, s := range v {
			dst[k] = s
		}
		return dst
	case []string:
		return append([]string(nil), v...)
	default:
		return val
	}
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}
	dst := make([]any, len(src))
	for i, v := range src {
		dst[i] = cloneValue(v)
	}
	return dst
}
