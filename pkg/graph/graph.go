// Package graph is the execution engine under the dialogue runtime: a
// compiled graph of named nodes connected by static and conditional edges,
// run one node at a time with a checkpoint after every transition. Nodes can
// suspend on user input and be resumed later with the user's reply.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// End is the terminal edge target. Routing to End finishes the run.
const End = "__end__"

var (
	// ErrGraphInvalid indicates the builder describes an unrunnable graph.
	ErrGraphInvalid = errors.New("invalid graph")

	// ErrUnknownNode indicates a run or route referenced a node the compiled
	// graph does not contain.
	ErrUnknownNode = errors.New("unknown graph node")

	// ErrStepLimit indicates a single run exceeded the node transition
	// budget, which means the routing functions are cycling.
	ErrStepLimit = errors.New("graph step limit exceeded")
)

// NodeFunc is one unit of work. It reads the state and the injected runtime
// and returns a partial update; the runner applies the update and routes to
// the next node. Nodes never mutate the state they are given.
type NodeFunc[R any] func(ctx context.Context, rt R, st *dialogue.DialogueState) (*dialogue.Updates, error)

// RouterFunc picks the next node from the post-update state.
type RouterFunc func(st *dialogue.DialogueState) string

// Builder accumulates nodes and edges for Compile.
type Builder[R any] struct {
	nodes   map[string]NodeFunc[R]
	edges   map[string]string
	routers map[string]RouterFunc
	start   string
}

func NewBuilder[R any]() *Builder[R] {
	return &Builder[R]{
		nodes:   map[string]NodeFunc[R]{},
		edges:   map[string]string{},
		routers: map[string]RouterFunc{},
	}
}

// AddNode registers a named node.
func (b *Builder[R]) AddNode(name string, fn NodeFunc[R]) *Builder[R] {
	b.nodes[name] = fn
	return b
}

// AddEdge wires an unconditional transition from one node to another (or to
// End).
func (b *Builder[R]) AddEdge(from, to string) *Builder[R] {
	b.edges[from] = to
	return b
}

// AddConditional wires a routing function evaluated after the node runs.
func (b *Builder[R]) AddConditional(from string, route RouterFunc) *Builder[R] {
	b.routers[from] = route
	return b
}

// SetStart names the entry node.
func (b *Builder[R]) SetStart(name string) *Builder[R] {
	b.start = name
	return b
}

// Compile validates the builder and returns an immutable graph. Every node
// needs exactly one outgoing edge or router, every static edge must point at
// a registered node or End, and the start node must exist.
func (b *Builder[R]) Compile() (*Graph[R], error) {
	if b.start == "" {
		return nil, fmt.Errorf("%w: no start node", ErrGraphInvalid)
	}
	if _, ok := b.nodes[b.start]; !ok {
		return nil, fmt.Errorf("%w: start node %q not registered", ErrGraphInvalid, b.start)
	}

	names := make([]string, 0, len(b.nodes))
	for name := range b.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, hasEdge := b.edges[name]
		_, hasRouter := b.routers[name]
		if hasEdge && hasRouter {
			return nil, fmt.Errorf("%w: node %q has both an edge and a router", ErrGraphInvalid, name)
		}
		if !hasEdge && !hasRouter {
			return nil, fmt.Errorf("%w: node %q has no outgoing edge", ErrGraphInvalid, name)
		}
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: edge from unregistered node %q", ErrGraphInvalid, from)
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, fmt.Errorf("%w: edge %q -> unregistered node %q", ErrGraphInvalid, from, to)
			}
		}
	}
	for from := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: router on unregistered node %q", ErrGraphInvalid, from)
		}
	}

	g := &Graph[R]{
		nodes:   make(map[string]NodeFunc[R], len(b.nodes)),
		edges:   make(map[string]string, len(b.edges)),
		routers: make(map[string]RouterFunc, len(b.routers)),
		start:   b.start,
	}
	for name, fn := range b.nodes {
		g.nodes[name] = fn
	}
	for from, to := range b.edges {
		g.edges[from] = to
	}
	for from, route := range b.routers {
		g.routers[from] = route
	}
	return g, nil
}

// Graph is a compiled, immutable node graph. Safe for concurrent runs.
type Graph[R any] struct {
	nodes   map[string]NodeFunc[R]
	edges   map[string]string
	routers map[string]RouterFunc
	start   string
}

// Start returns the entry node name.
func (g *Graph[R]) Start() string { return g.start }

// Has reports whether the graph contains the named node.
func (g *Graph[R]) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// next resolves the node that follows from, given the post-update state.
func (g *Graph[R]) next(from string, st *dialogue.DialogueState) (string, error) {
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	route, ok := g.routers[from]
	if !ok {
		return "", fmt.Errorf("%w: node %q has no outgoing edge", ErrUnknownNode, from)
	}
	to := route(st)
	if to != End && !g.Has(to) {
		return "", fmt.Errorf("%w: router on %q returned %q", ErrUnknownNode, from, to)
	}
	return to, nil
}
