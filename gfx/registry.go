package gfx

import (
	"slices"
	"sync"
)

// Factory opens a device and its command queue.
type Factory func() (Device, CmdQueue, error)

// Registry maps backend names to factories. Backends register themselves
// explicitly, e.g. halgfx.Register(r); there is no process-wide registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	priority  []string
}

// NewRegistry returns an empty registry. Default tries the names in
// priority first, then the remaining ones in sorted order.
func NewRegistry(priority ...string) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		priority:  slices.Clone(priority),
	}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Unregister removes name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Open runs the factory registered under name.
func (r *Registry) Open(name string) (Device, CmdQueue, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, NewError("Open "+name, ErrBackendNotAvailable, nil)
	}
	return f()
}

// Default opens the first backend, in priority order, whose factory
// succeeds. It returns the name of the opened backend.
func (r *Registry) Default() (string, Device, CmdQueue, error) {
	r.mu.RLock()
	order := slices.Clone(r.priority)
	var rest []string
	for name := range r.factories {
		if !slices.Contains(order, name) {
			rest = append(rest, name)
		}
	}
	r.mu.RUnlock()
	slices.Sort(rest)
	order = append(order, rest...)

	var lastErr error
	for _, name := range order {
		if !r.IsRegistered(name) {
			continue
		}
		dev, queue, err := r.Open(name)
		if err == nil {
			return name, dev, queue, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrBackendNotAvailable
	}
	return "", nil, nil, lastErr
}
