package plugin

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Module is the extension entry point of a plugin. Implementations are
// compiled into the host and registered by plugin id.
type Module interface {
	Load(ctx context.Context, p *Plugin) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, p *Plugin) error

// Load calls f.
func (f ModuleFunc) Load(ctx context.Context, p *Plugin) error { return f(ctx, p) }

// Registry maps plugin ids to their entry points.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register binds m to id. Registering an id twice is an error.
func (r *Registry) Register(id string, m Module) error {
	if m == nil {
		return fmt.Errorf("plugin: nil module for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.modules[id]; dup {
		return fmt.Errorf("plugin: module %s already registered", id)
	}
	r.modules[id] = m
	return nil
}

// Lookup returns the entry point registered for id.
func (r *Registry) Lookup(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// IDs returns the registered plugin ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
