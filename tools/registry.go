package tools

import (
	"context"
	"sync"
)

// Executor runs one tool call and always returns a Result.
type Executor func(ctx context.Context, args Args) Result

// Registry maps tool identities to executors.
type Registry struct {
	executors map[Name]Executor
	mu        sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[Name]Executor)}
}

// Register adds or replaces the executor for a tool.
func (r *Registry) Register(name Name, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = exec
}

// Lookup returns the executor for a tool, or nil.
func (r *Registry) Lookup(name Name) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Names returns the registered tools in catalogue order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, 0, len(r.executors))
	for _, n := range AllNames {
		if _, ok := r.executors[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Missing returns catalogue tools that have no executor.
func (r *Registry) Missing() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []Name
	for _, n := range AllNames {
		if _, ok := r.executors[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
