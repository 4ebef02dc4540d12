package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// ErrNoHandler indicates a command variant with no registered handler.
var ErrNoHandler = errors.New("no handler registered for command type")

// HandlerFunc executes one command variant against the working state and
// returns partial updates. Handlers must not mutate st; anything they want
// to change goes into the returned Updates.
type HandlerFunc func(ctx context.Context, env Env, st *dialogue.DialogueState, cmd Command) (*dialogue.Updates, error)

// Registry is the type-keyed handler lookup. Populated at startup, read-only
// afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
	frozen   bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[Type]HandlerFunc{}}
}

// Register adds a handler for a command type. Panics after Freeze or when
// the type already has a handler; each variant has exactly one.
func (r *Registry) Register(t Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("commands: register %q on frozen registry", t))
	}
	if _, exists := r.handlers[t]; exists {
		panic(fmt.Sprintf("commands: duplicate handler for %q", t))
	}
	r.handlers[t] = h
}

// Freeze marks the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get retrieves the handler for a command type.
func (r *Registry) Get(t Type) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, t)
	}
	return h, nil
}

// Has reports whether the command type has a handler.
func (r *Registry) Has(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Types returns the registered command types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
