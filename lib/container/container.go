package container

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Container
// --------------------------------------------------------------------------

// Container is the node-local entry store. All methods are safe for
// concurrent use.
type Container struct {
	entries *xsync.MapOf[string, []byte]
}

// New creates an empty container.
func New() *Container {
	return &Container{entries: xsync.NewMapOf[string, []byte]()}
}

// Get returns the value for a key. The boolean reports whether the key was
// present.
func (c *Container) Get(key string) ([]byte, bool) {
	return c.entries.Load(key)
}

// Put inserts or updates a key-value pair.
func (c *Container) Put(key string, value []byte) {
	c.entries.Store(key, value)
}

// Replace updates a key only if it is present. It reports whether the
// update happened.
func (c *Container) Replace(key string, value []byte) bool {
	_, ok := c.entries.Compute(key, func(old []byte, loaded bool) ([]byte, bool) {
		if !loaded {
			return nil, true // delete marker: keep the key absent
		}
		return value, false
	})
	return ok
}

// Append applies a delta to an existing value by appending; a missing key
// starts from the empty value.
func (c *Container) Append(key string, delta []byte) {
	c.entries.Compute(key, func(old []byte, _ bool) ([]byte, bool) {
		merged := make([]byte, 0, len(old)+len(delta))
		merged = append(merged, old...)
		merged = append(merged, delta...)
		return merged, false
	})
}

// Remove deletes a key. It reports whether the key was present.
func (c *Container) Remove(key string) bool {
	_, ok := c.entries.LoadAndDelete(key)
	return ok
}

// Clear removes all entries.
func (c *Container) Clear() {
	c.entries.Clear()
}

// Keys returns all keys currently present.
func (c *Container) Keys() []string {
	keys := make([]string, 0, c.entries.Size())
	c.entries.Range(func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Entries returns a copy of all entries currently present.
func (c *Container) Entries() map[string][]byte {
	out := make(map[string][]byte, c.entries.Size())
	c.entries.Range(func(k string, v []byte) bool {
		out[k] = v
		return true
	})
	return out
}

// Len returns the number of entries.
func (c *Container) Len() int {
	return c.entries.Size()
}
