package module

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a field domain from the shared dependencies.
type Factory func(Deps) (Module, error)

// Registry maintains known field domain factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("module: id is required")
	}
	if factory == nil {
		return fmt.Errorf("module: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("module: %s already registered", id)
	}
	r.factories[id] = factory
	r.order = append(r.order, id)
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a field domain by ID.
func (r *Registry) Resolve(id string, deps Deps) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: unknown id %s", id)
	}
	mod, err := factory(deps.normalized())
	if err != nil {
		return nil, fmt.Errorf("module: build %s: %w", id, err)
	}
	if err := mod.Info().Validate(); err != nil {
		return nil, err
	}
	if mod.Info().ID != id {
		return nil, fmt.Errorf("module: factory for %s built %s", id, mod.Info().ID)
	}
	return mod, nil
}

// ResolveAll constructs every registered domain in registration order.
func (r *Registry) ResolveAll(deps Deps) ([]Module, error) {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()
	mods := make([]Module, 0, len(ids))
	for _, id := range ids {
		mod, err := r.Resolve(id, deps)
		if err != nil {
			return nil, err
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// IDs returns a sorted list of registered identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
