package tools

import (
	"fmt"
	"strings"
	"sync"
)

type entry struct {
	desc Descriptor
	ctor Constructor
}

// Registry maps tool names to constructors. It is populated once by Discover
// and read by the Runner; re-registering a name replaces the constructor in place.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts or overwrites the slot for desc.Name. Overwriting keeps the
// slot's original position in List.
func (r *Registry) Register(desc Descriptor, ctor Constructor) error {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRegistration)
	}
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor for %q", ErrInvalidRegistration, name)
	}
	desc.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{desc: desc, ctor: ctor}
	return nil
}

// Resolve returns the constructor registered under name.
func (r *Registry) Resolve(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.ctor, true
}

// Descriptor returns the descriptor registered under name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// List returns tool names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
