// Package actions holds the process-wide registries of named handlers with
// declared I/O: actions, slot validators, and slot normalizers. Registries
// are populated at startup and frozen before the first message is processed;
// after freeze they are read-only and safe for concurrent readers.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is the callable behind a registered action. Inputs and outputs
// are flat maps; handlers are total functions returning either a map or an
// error.
type HandlerFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Action is a named handler with a declared input/output shape. Required
// input names are validated by the dispatcher before the handler runs.
type Action struct {
	Name    string
	Inputs  []string // required input names
	Outputs []string // produced output names
	Handler HandlerFunc
}

// Registry stores actions by name.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
	frozen  bool
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: map[string]*Action{}}
}

// Register adds an action. Registering after Freeze or re-registering a name
// is a programming error and panics.
func (r *Registry) Register(a *Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("actions: register %q: %v", a.Name, ErrRegistryFrozen))
	}
	if a.Name == "" || a.Handler == nil {
		panic("actions: register: name and handler are required")
	}
	if _, exists := r.actions[a.Name]; exists {
		panic(fmt.Sprintf("actions: duplicate registration of %q", a.Name))
	}
	r.actions[a.Name] = a
}

// Freeze marks the registry read-only. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (*Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[name]
	if !ok {
		return nil, NewActionError(name, KindNotFound, nil)
	}
	return a, nil
}

// Has reports whether an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
