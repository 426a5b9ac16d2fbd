// Package globals holds the process-wide values every mounted module can read:
// the event broker handle and the latest shared state snapshot. The host
// creates exactly one Globals and injects it into each mount.
package globals

import (
	"sort"
	"sync"
)

// Well-known keys.
const (
	KeyEventBroker = "fedhost.eventBroker"
	KeySharedState = "fedhost.sharedState"
)

// Globals is a concurrency-safe key/value table.
type Globals struct {
	mu     sync.RWMutex
	values map[string]any
}

// New creates an empty table.
func New() *Globals {
	return &Globals{values: make(map[string]any)}
}

// Set stores v under key, replacing any previous value.
func (g *Globals) Set(key string, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[key] = v
}

// Get returns the value stored under key.
func (g *Globals) Get(key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (g *Globals) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.values))
	for k := range g.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the value under key if it holds a T. Values with a
// Clone() T method are returned as a fresh clone so callers never share
// mutable state through the table.
func Lookup[T any](g *Globals, key string) (T, bool) {
	var zero T
	if g == nil {
		return zero, false
	}
	v, ok := g.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	if c, ok := any(t).(interface{ Clone() T }); ok {
		return c.Clone(), true
	}
	return t, true
}
